package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/cosmicwatch/neowatch/pkg/mail"
)

var alertMailHTML = template.Must(template.New("alert").Parse(`<div style="font-family: Arial, sans-serif; background:#0f172a; color:#e5e7eb; padding:20px;">
  <div style="max-width:600px; margin:auto; background:#020617; border-radius:12px; padding:24px;">
    <h2 style="color:#f87171;">Asteroid Alert</h2>
    <p>An asteroid matching your alert preferences has been detected.</p>
    <table style="width:100%; margin-top:16px;">
      <tr><td><strong>Name</strong></td><td>{{.Name}}</td></tr>
      <tr><td><strong>Risk Level</strong></td><td>{{.RiskLevel}}</td></tr>
      <tr><td><strong>Close Approach</strong></td><td>{{.CloseApproachDate}}</td></tr>
      <tr><td><strong>Miss Distance</strong></td><td>{{printf "%.4f" .MissDistanceAU}} AU</td></tr>
    </table>
    {{if .AppURL}}<div style="margin-top:24px;">
      <a href="{{.AppURL}}" style="display:inline-block; padding:12px 20px; background:#6366f1; color:white; border-radius:8px; text-decoration:none;">View in CosmicWatch</a>
    </div>{{end}}
    {{if .NasaJPLURL}}<p style="margin-top:16px;"><a href="{{.NasaJPLURL}}" style="color:#38bdf8;">View NASA JPL Details</a></p>{{end}}
    <hr style="margin:24px 0; border-color:#1e293b;" />
    <p style="font-size:12px; color:#94a3b8;">You received this alert because it matches your custom alert preferences.</p>
  </div>
</div>
`))

// AlertMailComposer renders digest alert e-mails.
type AlertMailComposer struct {
	appBaseURL string
}

// NewAlertMailComposer builds a composer. appBaseURL prefixes in-app links;
// when empty the links stay relative.
func NewAlertMailComposer(appBaseURL string) *AlertMailComposer {
	return &AlertMailComposer{appBaseURL: strings.TrimRight(strings.TrimSpace(appBaseURL), "/")}
}

// Compose builds the alert message for one candidate.
func (c *AlertMailComposer) Compose(to string, candidate Candidate) (mail.Message, error) {
	candidate.AppURL = c.absolute(candidate.AppURL)

	var html bytes.Buffer
	if err := alertMailHTML.Execute(&html, candidate); err != nil {
		return mail.Message{}, fmt.Errorf("alert mail: render: %w", err)
	}

	return mail.Message{
		To:       []string{to},
		Subject:  "🚨 Asteroid Alert: " + candidate.Name,
		Body:     alertMailText(candidate),
		HTMLBody: html.String(),
	}, nil
}

func (c *AlertMailComposer) absolute(path string) string {
	if path == "" || c.appBaseURL == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.appBaseURL + "/" + strings.TrimLeft(path, "/")
}

func alertMailText(c Candidate) string {
	var b strings.Builder
	b.WriteString("Asteroid Alert\n\n")
	fmt.Fprintf(&b, "Name: %s\n", c.Name)
	fmt.Fprintf(&b, "Risk Level: %s\n", c.RiskLevel)
	fmt.Fprintf(&b, "Close Approach Date: %s\n", c.CloseApproachDate)
	fmt.Fprintf(&b, "Miss Distance: %.4f AU\n", c.MissDistanceAU)
	if c.NasaJPLURL != "" {
		fmt.Fprintf(&b, "\nNASA Details:\n%s\n", c.NasaJPLURL)
	}
	if c.AppURL != "" {
		fmt.Fprintf(&b, "\nView on CosmicWatch:\n%s\n", c.AppURL)
	}
	b.WriteString("\nStay curious,\nCosmicWatch Team\n")
	return b.String()
}
