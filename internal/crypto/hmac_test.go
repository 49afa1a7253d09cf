package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignBybit(t *testing.T) {
	auth := &HMACAuth{Key: "test-key", Secret: "test-secret"}
	sig := auth.SignBybit(1700000000000, 5000, "category=spot&symbol=BTCUSDT")
	assert.Equal(t, "0048edf42c4979197cec265d4f090ffe6c30d7dec8782e4e6a26b51c2703cbf9", sig)
}

func TestSignBinance(t *testing.T) {
	auth := &HMACAuth{Key: "test-key", Secret: "test-secret"}
	sig := auth.SignBinance("symbol=BTCUSDT&side=BUY&type=MARKET&quantity=0.1&timestamp=1700000000000&recvWindow=5000")
	assert.Equal(t, "6172496edcea1e279834df72bf392fbb89542b1980067ca65c612fd84f1de321", sig)
}

func TestSignOKX(t *testing.T) {
	auth := &HMACAuth{Key: "test-key", Secret: "test-secret"}
	sig := auth.SignOKX("2020-12-08T09:08:57.715Z", "GET", "/api/v5/account/balance", "")
	assert.Equal(t, "hGuF4tMCIcSB86VajcVVJCgsqR9B+kb93cLS/C50pUE=", sig)
}

func TestOKXTimestamp(t *testing.T) {
	ts := time.Date(2020, 12, 8, 9, 8, 57, 715_000_000, time.UTC)
	assert.Equal(t, "2020-12-08T09:08:57.715Z", OKXTimestamp(ts))
}

func TestStringRedactsSecrets(t *testing.T) {
	auth := &HMACAuth{Key: "abcdef", Secret: "supersecret"}
	s := auth.String()
	assert.NotContains(t, s, "supersecret")
	assert.Contains(t, s, "abcd****")
}
