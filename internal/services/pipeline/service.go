package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/pipetools/cisync/internal/domain/errors"
	"github.com/pipetools/cisync/internal/transport/httpclient"
)

type Service struct {
	client *httpclient.Client
}

func NewService(client *httpclient.Client) *Service {
	return &Service{client: client}
}

type TriggerInput struct {
	// URL is the complete webhook endpoint. When empty, the endpoint is
	// composed from the configured host and Project.
	URL       string
	Project   string
	Ref       string
	Token     string
	Variables map[string]string
}

type TriggerResult struct {
	StatusCode int    `json:"status_code"`
	PipelineID int64  `json:"pipeline_id,omitempty"`
	WebURL     string `json:"web_url,omitempty"`
}

// Trigger fires the pipeline webhook: a multipart form POST carrying ref,
// token and one variables[KEY] field per variable. Values are passed on
// verbatim.
func (service *Service) Trigger(ctx context.Context, input TriggerInput) (TriggerResult, error) {
	if strings.TrimSpace(input.Ref) == "" {
		return TriggerResult{}, apperrors.New(apperrors.KindValidation, "ref is required", nil)
	}

	if strings.TrimSpace(input.Token) == "" {
		return TriggerResult{}, apperrors.New(apperrors.KindValidation, "trigger token is required", nil)
	}

	endpoint := strings.TrimSpace(input.URL)
	if endpoint == "" {
		project := strings.TrimSpace(input.Project)
		if project == "" {
			return TriggerResult{}, apperrors.New(apperrors.KindValidation, "either a webhook URL or a project is required", nil)
		}
		endpoint = "/api/v4/projects/" + url.PathEscape(project) + "/trigger/pipeline"
	}

	fields := map[string]string{
		"ref":   input.Ref,
		"token": input.Token,
	}
	for key, value := range input.Variables {
		if strings.TrimSpace(key) == "" {
			return TriggerResult{}, apperrors.New(apperrors.KindValidation, "variable names cannot be empty", nil)
		}
		fields[fmt.Sprintf("variables[%s]", key)] = value
	}

	body, status, err := service.client.PostMultipart(ctx, endpoint, fields)
	if err != nil {
		return TriggerResult{}, err
	}

	result := TriggerResult{StatusCode: status}

	// The response body is decoded loosely; hosts that return no JSON still
	// count as a successful trigger.
	var decoded struct {
		ID     int64  `json:"id"`
		WebURL string `json:"web_url"`
	}
	if json.Unmarshal(body, &decoded) == nil {
		result.PipelineID = decoded.ID
		result.WebURL = decoded.WebURL
	}

	return result, nil
}
