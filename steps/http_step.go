package steps

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prochestra/prochestra/logger"
	"go.uber.org/zap"
)

type httpExecutor struct {
	client *http.Client
}

var _ StepExecutor = new(httpExecutor)

// NewHttpExecutor returns the executor for "http" steps: it POSTs the
// resolved parameters as JSON to the step's "url" parameter and treats any
// 2xx response as completion, with the response body (if JSON) as output.
func NewHttpExecutor() *httpExecutor {
	return &httpExecutor{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *httpExecutor) Type() string {
	return "http"
}

func (e *httpExecutor) Execute(req Request) (Outcome, error) {
	url, ok := req.Input["url"].(string)
	if !ok || url == "" {
		return Failed("http step requires a url parameter"), nil
	}
	body := make(map[string]any, len(req.Input))
	for k, v := range req.Input {
		if k == "url" {
			continue
		}
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Failed(err.Error()), nil
	}
	resp, err := e.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.Error("http step call failed", zap.String("executionId", req.ExecutionId),
			zap.String("stepId", req.StepId), zap.Error(err))
		return Failed(err.Error()), nil
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failed(err.Error()), nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Failed(fmt.Sprintf("http step returned status %d", resp.StatusCode)), nil
	}
	output := make(map[string]any)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &output); err != nil {
			output = map[string]any{"body": string(raw)}
		}
	}
	return Completed(output), nil
}
