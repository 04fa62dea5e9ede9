package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/teerand/tee-randomness-backend/commitment"
	"github.com/teerand/tee-randomness-backend/common"
	"github.com/teerand/tee-randomness-backend/cryptoutils"
	"github.com/teerand/tee-randomness-backend/interfaces"
	"github.com/teerand/tee-randomness-backend/storage"
)

var flagServerAddr *cli.StringFlag = &cli.StringFlag{
	Name:  "server-addr",
	Value: "http://127.0.0.1:8080",
	Usage: "Randomness server address to verify against",
}
var flagProofID *cli.StringFlag = &cli.StringFlag{
	Name:     "proof-id",
	Required: true,
	Usage:    "Storage transaction ID of a published proof document. 64-char hex string",
}
var flagStorage *cli.StringSliceFlag = &cli.StringSliceFlag{
	Name:  "commitment-storage",
	Usage: "Storage backend URI to fetch proof documents from (file://, ipfs://, s3://), repeatable",
}
var flagSeed *cli.StringFlag = &cli.StringFlag{
	Name:  "seed",
	Usage: "Disclosed random seed as hex. If set, the commitment binding is checked as well",
}

const usage string = "Out-of-band verification of attestation quotes and published commitment proofs"

func main() {
	app := &cli.App{
		Name:  "verify client",
		Usage: usage,
		Commands: []*cli.Command{
			{
				Name:        "attestation",
				Usage:       "Verify the server's attestation quote",
				Description: "Fetches /v1/attestation and verifies the DCAP quote against its report data.",
				Flags:       []cli.Flag{flagServerAddr},
				Action: func(cCtx *cli.Context) error {
					return verifyAttestation(cCtx.String(flagServerAddr.Name))
				},
			},
			{
				Name:        "commitment",
				Usage:       "Verify a published proof document",
				Description: "Fetches the document by content ID, checks its content address and signature, and with --seed the commitment binding.",
				Flags:       []cli.Flag{flagProofID, flagStorage, flagSeed},
				Action: func(cCtx *cli.Context) error {
					return verifyCommitment(cCtx.Context,
						cCtx.String(flagProofID.Name),
						cCtx.StringSlice(flagStorage.Name),
						cCtx.String(flagSeed.Name))
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// attestationIdentity mirrors the body of GET /v1/attestation.
type attestationIdentity struct {
	TeeType       string `json:"tee_type"`
	Provider      string `json:"provider"`
	Quote         string `json:"quote"`
	ReportDataHex string `json:"report_data_hex"`
	Warning       string `json:"warning"`
}

func verifyAttestation(serverAddr string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverAddr + "/v1/attestation")
	if err != nil {
		return fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("attestation request returned status %d", resp.StatusCode)
	}

	var identity attestationIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return fmt.Errorf("could not decode attestation response: %w", err)
	}
	if identity.TeeType != "tdx" {
		return fmt.Errorf("server returned a %q attestation, nothing to verify: %s", identity.TeeType, identity.Warning)
	}

	rawReportData, err := hex.DecodeString(identity.ReportDataHex)
	if err != nil || len(rawReportData) != 64 {
		return fmt.Errorf("malformed report data %q", identity.ReportDataHex)
	}
	var reportData [64]byte
	copy(reportData[:], rawReportData)

	rawQuote, err := base64.StdEncoding.DecodeString(identity.Quote)
	if err != nil {
		return fmt.Errorf("could not decode quote: %w", err)
	}

	measurements, err := cryptoutils.VerifyDCAPQuote(reportData, rawQuote)
	if err != nil {
		return fmt.Errorf("quote verification failed: %w", err)
	}

	encoded, _ := json.Marshal(measurements)
	fmt.Println(string(encoded))
	fmt.Println("attestation validation successful")
	return nil
}

func verifyCommitment(ctx context.Context, proofID string, storageURIs []string, seedHex string) error {
	id, err := interfaces.NewContentIDFromHex(proofID)
	if err != nil {
		return fmt.Errorf("could not parse proof ID: %w", err)
	}
	if len(storageURIs) == 0 {
		return fmt.Errorf("at least one --commitment-storage URI is required")
	}

	logger := common.SetupLogger(&common.LoggingOpts{Service: "verify-client"})
	backend, err := storage.NewFactory(logger).CreateMultiBackend(storageURIs)
	if err != nil {
		return fmt.Errorf("could not set up storage backends: %w", err)
	}

	raw, err := backend.Fetch(ctx, id, interfaces.ProofType)
	if err != nil {
		return fmt.Errorf("could not fetch proof document: %w", err)
	}

	// The document is content-addressed, so a tampered copy cannot match
	// the ID it was requested under.
	if !interfaces.ComputeID(raw).Equal(id) {
		return fmt.Errorf("proof document does not match its content ID %s", id)
	}

	var doc commitment.ProofDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("could not decode proof document: %w", err)
	}

	if err := verifySignature(doc); err != nil {
		return err
	}

	if seedHex != "" {
		seed, err := hex.DecodeString(seedHex)
		if err != nil {
			return fmt.Errorf("could not decode seed: %w", err)
		}
		if !commitment.VerifyDocument(doc, seed) {
			return fmt.Errorf("commitment hash does not match the disclosed seed")
		}
		fmt.Println("commitment binding verified for disclosed seed")
	}

	encoded, _ := json.Marshal(doc)
	fmt.Println(string(encoded))
	fmt.Println("proof document verification successful")
	return nil
}

func verifySignature(doc commitment.ProofDocument) error {
	if doc.Signature == "" || doc.SignerPubkey == "" {
		return fmt.Errorf("proof document is unsigned")
	}

	pubkey, err := base64.StdEncoding.DecodeString(doc.SignerPubkey)
	if err != nil || len(pubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed signer pubkey")
	}
	sig, err := base64.StdEncoding.DecodeString(doc.Signature)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}

	unsigned := doc
	unsigned.SignerPubkey = ""
	unsigned.Signature = ""
	payload, err := json.Marshal(unsigned)
	if err != nil {
		return fmt.Errorf("could not re-encode proof document: %w", err)
	}

	if !ed25519.Verify(ed25519.PublicKey(pubkey), payload, sig) {
		return fmt.Errorf("proof document signature is invalid")
	}
	return nil
}
