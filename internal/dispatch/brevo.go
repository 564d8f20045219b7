package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"smartgarden/internal/automation"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// ErrMailerDisabled is returned when no API key is configured
var ErrMailerDisabled = errors.New("mailer: no api key configured")

// BrevoMailer sends transactional emails through the Brevo HTTP API
type BrevoMailer struct {
	APIKey      string
	SenderName  string
	SenderEmail string
	Endpoint    string
	Client      *http.Client
}

// NewBrevoMailer creates a mailer for apiKey
func NewBrevoMailer(apiKey, senderName, senderEmail string) *BrevoMailer {
	return &BrevoMailer{
		APIKey:      apiKey,
		SenderName:  senderName,
		SenderEmail: senderEmail,
		Endpoint:    brevoEndpoint,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether the mailer can send
func (m *BrevoMailer) Enabled() bool { return m != nil && m.APIKey != "" }

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// SendAlert renders alert with its template and sends it to to
func (m *BrevoMailer) SendAlert(ctx context.Context, to string, alert automation.EmailAlert) error {
	if !m.Enabled() {
		return ErrMailerDisabled
	}
	subject, html, err := Render(alert)
	if err != nil {
		return err
	}
	return m.Send(ctx, to, subject, html)
}

// Send posts one email
func (m *BrevoMailer) Send(ctx context.Context, to, subject, html string) error {
	if !m.Enabled() {
		return ErrMailerDisabled
	}
	body, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Name: m.SenderName, Email: m.SenderEmail},
		To:          []brevoAddress{{Email: to}},
		Subject:     subject,
		HTMLContent: html,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", m.APIKey)

	resp, err := m.Client.Do(req)
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("mailer: brevo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

var sensorNames = map[string]string{
	"temperature":   "Temperature",
	"humidity":      "Humidity",
	"soil_moisture": "Soil moisture",
	"soilMoisture":  "Soil moisture",
	"light":         "Light",
	"water_level":   "Water level",
	"waterLevel":    "Water level",
}

func sensorName(s string) string {
	if n, ok := sensorNames[s]; ok {
		return n
	}
	return s
}

var (
	thresholdTmpl = template.Must(template.New("threshold").Parse(`<h2>Sensor alert</h2>
<p><strong>{{.Sensor}}</strong> is {{.Condition}} its threshold.</p>
<ul>
  <li>Current value: {{.Value}}</li>
  <li>Threshold: {{.Threshold}}</li>
  <li>Control: {{.ControlType}}</li>
</ul>
{{if .Message}}<p>{{.Message}}</p>{{end}}`))

	autoControlTmpl = template.Must(template.New("auto").Parse(`<h2>Automatic control</h2>
<p>Your <strong>{{.ControlType}}</strong> was switched <strong>{{.Action}}</strong>.</p>
<p>Reason: {{.Reason}}</p>`))
)

// Render returns the subject and HTML body of alert
func Render(alert automation.EmailAlert) (string, string, error) {
	data := map[string]string{
		"Sensor":      sensorName(alert.SensorType),
		"Condition":   alert.Condition,
		"Value":       strconv.FormatFloat(alert.Value, 'f', -1, 64),
		"Threshold":   strconv.FormatFloat(alert.Threshold, 'f', -1, 64),
		"ControlType": string(alert.ControlType),
		"Action":      strings.ToUpper(alert.Action),
		"Reason":      alert.Reason,
		"Message":     alert.Message,
	}

	var (
		subject string
		tmpl    *template.Template
	)
	switch alert.Template {
	case automation.TemplateAutoControl:
		subject = fmt.Sprintf("Automatic control: %s switched %s", alert.ControlType, data["Action"])
		tmpl = autoControlTmpl
	case automation.TemplateThresholdAlert, "":
		subject = fmt.Sprintf("Alert: %s %s threshold", data["Sensor"], alert.Condition)
		tmpl = thresholdTmpl
	default:
		return "", "", fmt.Errorf("mailer: unknown template %q", alert.Template)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", "", err
	}
	return subject, buf.String(), nil
}
