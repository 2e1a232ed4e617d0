// Package emails delivers verification mail through Azure Communication
// Services. The client is built directly on the azcore pipeline: send the
// message, then poll the returned operation until it reports Succeeded.
package emails

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

const (
	apiVersion = "2023-03-31"
	acsScope   = "https://communication.azure.com/.default"

	pollInterval = 10 * time.Second
	maxPolls     = 18
)

// Mailer sends a verification link to a login email address.
type Mailer interface {
	SendVerification(ctx context.Context, recipient, verificationURL string) error
}

// Message is the ACS email payload.
type Message struct {
	SenderAddress string     `json:"senderAddress"`
	Content       Content    `json:"content"`
	Recipients    Recipients `json:"recipients"`
}

// Content holds the subject and bodies of an outgoing email.
type Content struct {
	Subject   string `json:"subject"`
	PlainText string `json:"plainText"`
	HTML      string `json:"html,omitempty"`
}

// Recipients lists destination addresses.
type Recipients struct {
	To []Address `json:"to"`
}

// Address is a single recipient.
type Address struct {
	Address     string `json:"address"`
	DisplayName string `json:"displayName,omitempty"`
}

type operationStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ACSMailer sends email through an Azure Communication Services resource,
// authenticating with the ambient Azure credential chain.
type ACSMailer struct {
	endpoint string
	sender   string
	pipeline runtime.Pipeline

	pollInterval time.Duration
}

// NewACSMailer creates a mailer for the given ACS endpoint and sender address.
func NewACSMailer(endpoint, sender string) (*ACSMailer, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("acquiring Azure credential: %w", err)
	}

	authPolicy := runtime.NewBearerTokenPolicy(cred, []string{acsScope}, nil)
	pl := runtime.NewPipeline("membrane", "1.0.0",
		runtime.PipelineOptions{PerRetry: []policy.Policy{authPolicy}},
		&policy.ClientOptions{})

	return newACSMailer(endpoint, sender, pl), nil
}

// newACSMailer wires a prebuilt pipeline, letting tests swap the transport.
func newACSMailer(endpoint, sender string, pl runtime.Pipeline) *ACSMailer {
	return &ACSMailer{
		endpoint:     endpoint,
		sender:       sender,
		pipeline:     pl,
		pollInterval: pollInterval,
	}
}

// SendVerification sends the verification link and waits for the delivery
// operation to complete. Failure or a polling timeout is an error; the login
// handler reports it to the user as a failed login attempt.
func (m *ACSMailer) SendVerification(ctx context.Context, recipient, verificationURL string) error {
	plain, html, err := RenderVerification(verificationURL)
	if err != nil {
		return err
	}

	msg := Message{
		SenderAddress: m.sender,
		Content: Content{
			Subject:   "Your login link",
			PlainText: plain,
			HTML:      html,
		},
		Recipients: Recipients{To: []Address{{Address: recipient}}},
	}

	opLocation, err := m.begin(ctx, msg)
	if err != nil {
		return err
	}
	return m.wait(ctx, opLocation)
}

func (m *ACSMailer) begin(ctx context.Context, msg Message) (string, error) {
	url := runtime.JoinPaths(m.endpoint, "emails:send") + "?api-version=" + apiVersion
	req, err := runtime.NewRequest(ctx, http.MethodPost, url)
	if err != nil {
		return "", fmt.Errorf("building send request: %w", err)
	}
	if err := runtime.MarshalAsJSON(req, msg); err != nil {
		return "", fmt.Errorf("encoding message: %w", err)
	}

	resp, err := m.pipeline.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending email: %w", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusAccepted) {
		return "", runtime.NewResponseError(resp)
	}

	opLocation := resp.Header.Get("Operation-Location")
	if opLocation == "" {
		return "", fmt.Errorf("send accepted but no Operation-Location returned")
	}
	return opLocation, nil
}

func (m *ACSMailer) wait(ctx context.Context, opLocation string) error {
	for i := 0; i < maxPolls; i++ {
		req, err := runtime.NewRequest(ctx, http.MethodGet, opLocation)
		if err != nil {
			return fmt.Errorf("building poll request: %w", err)
		}
		resp, err := m.pipeline.Do(req)
		if err != nil {
			return fmt.Errorf("polling email operation: %w", err)
		}
		if !runtime.HasStatusCode(resp, http.StatusOK) {
			return runtime.NewResponseError(resp)
		}

		var status operationStatus
		if err := runtime.UnmarshalAsJSON(resp, &status); err != nil {
			return fmt.Errorf("decoding operation status: %w", err)
		}

		switch status.Status {
		case "Succeeded":
			log.Printf("Successfully sent the email (operation id: %s)", status.ID)
			return nil
		case "Failed", "Canceled":
			if status.Error != nil {
				return fmt.Errorf("email operation %s: %s: %s", status.Status, status.Error.Code, status.Error.Message)
			}
			return fmt.Errorf("email operation %s", status.Status)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.pollInterval):
		}
	}
	return fmt.Errorf("email operation polling timed out")
}

// LogMailer is the development fallback when no ACS endpoint is configured:
// the verification URL is written to the log instead of being delivered.
type LogMailer struct{}

// SendVerification logs the link instead of emailing it.
func (LogMailer) SendVerification(_ context.Context, recipient, verificationURL string) error {
	log.Printf("📧 [DEV] Verification link for %s: %s", recipient, verificationURL)
	return nil
}
