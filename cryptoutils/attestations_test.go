package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyDCAPQuote_RejectsMalformedQuote(t *testing.T) {
	reportData := ReportData([]byte("seed material"), "number:1-100")

	_, err := VerifyDCAPQuote(reportData, []byte("not a tdx quote"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not parse quote")
}

func TestVerifyDCAPQuote_RejectsEmptyQuote(t *testing.T) {
	var reportData [64]byte

	_, err := VerifyDCAPQuote(reportData, nil)
	require.Error(t, err)
}
