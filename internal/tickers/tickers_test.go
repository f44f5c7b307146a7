package tickers

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
tickers: ['VCN.TO', 'VLB.TO', 'VFV.TO', 'VIU.TO']
mapping:
  VCN: Canada stocks
  VLB: Canada Bonds
  VFV: S&P 500 Index
  VIU: ex-NA stocks
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stocks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"VCN.TO", "VLB.TO", "VFV.TO", "VIU.TO"}, cfg.Tickers)
	assert.Equal(t, "S&P 500 Index", cfg.DisplayName("VFV.TO"))
	assert.Equal(t, "Canada Bonds", cfg.Names()["VLB.TO"])
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"empty":     "tickers: []\n",
		"duplicate": "tickers: [A, A]\n",
		"blank":     "tickers: ['  ']\n",
		"unknown":   "tickers: [A]\nextra: 1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestDisplaySymbol(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"VFV.TO", "VFV"},
		{"VOD.L", "VOD"},
		{"SPY", "SPY"},
		{".TO", ".TO"},
		{"ABC.12", "ABC.12"},
		{"XYZ.TOOLONG", "XYZ.TOOLONG"},
		{"A.B.NE", "A.B"},
		{"7203.T", "7203"},
		{"shop.to", "shop"},
		{"BRK.B", "BRK.B"},
		{"BRK.A", "BRK.A"},
		{"BRK.B.TO", "BRK.B"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DisplaySymbol(tt.in), tt.in)
	}
}

func TestDisplayNameFallsBackToSymbol(t *testing.T) {
	cfg := &Config{Tickers: []string{"XEQT.TO"}, Mapping: map[string]string{"XEQT.TO": ""}}
	assert.Equal(t, "XEQT", cfg.DisplayName("XEQT.TO"))
}
