package main

import (
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/fourotwo-xyz/web-scraper/pkg/attestation"
)

// runVerify decodes a feedback authorization blob and prints its signer and
// record fields.
func runVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	blobHex := fs.String("blob", "", "0x-prefixed feedback authorization")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *blobHex == "" && fs.NArg() > 0 {
		*blobHex = fs.Arg(0)
	}
	if *blobHex == "" {
		_, _ = fmt.Fprintln(stderr, "usage: paygate verify -blob 0x...")
		return 2
	}

	blob, err := hexutil.Decode(strings.TrimSpace(*blobHex))
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "decode blob: %v\n", err)
		return 1
	}
	signer, err := attestation.RecoverSigner(blob)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	rec, err := attestation.DecodeRecord(blob[:attestation.EncodedLength])
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "recovered_signer:  %s\n", signer.Hex())
	_, _ = fmt.Fprintf(stdout, "record_signer:     %s\n", rec.Signer.Hex())
	_, _ = fmt.Fprintf(stdout, "agent_id:          %s\n", rec.AgentID)
	_, _ = fmt.Fprintf(stdout, "client:            %s\n", rec.Client.Hex())
	_, _ = fmt.Fprintf(stdout, "index_limit:       %d\n", rec.IndexLimit)
	_, _ = fmt.Fprintf(stdout, "expiry:            %s\n", rec.Expiry)
	_, _ = fmt.Fprintf(stdout, "chain_id:          %s\n", rec.ChainID)
	_, _ = fmt.Fprintf(stdout, "identity_registry: %s\n", rec.IdentityRegistry.Hex())
	if signer != rec.Signer {
		_, _ = fmt.Fprintln(stdout, "MISMATCH: signature does not match record signer")
		return 1
	}
	return 0
}
