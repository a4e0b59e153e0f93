package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ErrApplicationNotFound is returned when the detail endpoint answers with no application.
var ErrApplicationNotFound = errors.New("application not found")

// TokenSource provides the bearer token attached to every request.
type TokenSource interface {
	Token() string
}

// APIError is a non-2xx answer from the Applications API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("applications api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("applications api: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the portal's REST backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokens:     tokens,
		httpClient: httpClient,
	}
}

type detailRequest struct {
	IDs   []string `json:"IDs"`
	JobID string   `json:"jobID"`
	Type  string   `json:"type"`
}

type detailResponse struct {
	JobApplications []rawApplication `json:"jobApplications"`
}

type applicantsResponse struct {
	Jobs []rawJob `json:"jobs"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GetApplicationDetail loads one application and its stage records.
func (c *Client) GetApplicationDetail(ctx context.Context, role Role, jobID, applicationID string) (*ApplicationDetail, error) {
	payload := detailRequest{
		IDs:   []string{applicationID},
		JobID: jobID,
		Type:  "jobApplication",
	}
	var resp detailResponse
	if err := c.do(ctx, http.MethodPost, "/"+string(role)+"/job/get-detail", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.JobApplications) == 0 {
		return nil, ErrApplicationNotFound
	}
	raw := resp.JobApplications[0]
	detail := &ApplicationDetail{
		ApplicationID: strings.TrimSpace(raw.DocID),
		Candidate:     raw.UserID,
		JobID:         raw.JobID.ID,
		ResumeURL:     raw.ResumeURL,
		Records:       raw.Status,
	}
	if detail.ApplicationID == "" {
		detail.ApplicationID = applicationID
	}
	if detail.JobID == "" {
		detail.JobID = jobID
	}
	return detail, nil
}

// SubmitStageChange asks the backend to append a stage record. Success is
// implied by the status code.
func (c *Client) SubmitStageChange(ctx context.Context, role Role, change StageChange) error {
	return c.do(ctx, http.MethodPost, "/"+string(role)+"/job/applicant/shortlist", change, nil)
}

// ListApplicants returns the applicant lists of every job visible to the employee.
func (c *Client) ListApplicants(ctx context.Context) ([]JobApplicants, error) {
	var resp applicantsResponse
	if err := c.do(ctx, http.MethodGet, "/employee/job/applicant/get-applicants", nil, &resp); err != nil {
		return nil, err
	}
	jobs := make([]JobApplicants, 0, len(resp.Jobs))
	for _, raw := range resp.Jobs {
		jobs = append(jobs, mapJob(raw))
	}
	return jobs, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.tokens != nil {
		if token := strings.TrimSpace(c.tokens.Token()); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mapAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapAPIError(status int, payload []byte) error {
	var parsed errorResponse
	if err := json.Unmarshal(payload, &parsed); err == nil {
		message := parsed.Message
		if message == "" {
			message = parsed.Error
		}
		return &APIError{StatusCode: status, Message: message}
	}
	message := strings.TrimSpace(string(payload))
	if len(message) > 200 {
		message = message[:200]
	}
	return &APIError{StatusCode: status, Message: message}
}
