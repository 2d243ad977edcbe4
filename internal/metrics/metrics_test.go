// ABOUTME: Tests for the Prometheus collectors and scrape handler
// ABOUTME: Scrapes Handler over HTTP and checks recorded answer usage

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesConnectedChannels(t *testing.T) {
	ConnectedChannels.WithLabelValues("user").Set(3)
	ConnectedChannels.WithLabelValues("agent").Set(1)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `handoff_connected_channels{kind="user"} 3`)
	assert.Contains(t, string(body), `handoff_connected_channels{kind="agent"} 1`)
}

func TestRecordAnswer(t *testing.T) {
	prompt := testutil.ToFloat64(TokensUsed.WithLabelValues("prompt"))
	completion := testutil.ToFloat64(TokensUsed.WithLabelValues("completion"))

	RecordAnswer("ok", time.Now(), 30, 7)
	RecordAnswer("error", time.Now(), 0, 0)

	assert.Equal(t, prompt+30, testutil.ToFloat64(TokensUsed.WithLabelValues("prompt")))
	assert.Equal(t, completion+7, testutil.ToFloat64(TokensUsed.WithLabelValues("completion")))
	assert.Equal(t, 2, testutil.CollectAndCount(AnswerDuration), "one series per status")
}
