package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"html/template"
	"strings"

	"CampaignSentinel/internal/model"
)

var severityIcon = map[model.Severity]string{
	model.SeverityCritical: "🚨",
	model.SeverityHigh:     "⚠️",
	model.SeverityMedium:   "🔶",
	model.SeverityLow:      "ℹ️",
}

var severityColor = map[model.Severity]string{
	model.SeverityCritical: "#b71c1c",
	model.SeverityHigh:     "#e65100",
	model.SeverityMedium:   "#f9a825",
	model.SeverityLow:      "#1565c0",
}

var emailTmpl = template.Must(template.New("alert").Parse(`<html><body style="font-family:sans-serif">
<h2 style="color:{{.Color}}">{{.Alert.Title}}</h2>
<p><strong>Unit:</strong> {{.Alert.UnitName}} ({{.Alert.UnitID}})<br>
<strong>Severity:</strong> {{.Alert.Severity}}<br>
<strong>Raised:</strong> {{.Raised}}</p>
<p>{{.Alert.Message}}</p>
{{if .Facts}}<table cellpadding="4">{{range .Facts}}<tr><td>{{.Label}}</td><td><strong>{{.Value}}</strong></td></tr>{{end}}</table>{{end}}
{{if .Alert.SuggestedActions}}<h3>Suggested actions</h3><ul>{{range .Alert.SuggestedActions}}<li>{{.}}</li>{{end}}</ul>{{end}}
<small>Automatic notification from CampaignSentinel.</small>
</body></html>`))

type fact struct {
	Label string
	Value string
}

// Renderer produces per-channel notification content for alerts.
type Renderer struct{}

// NewRenderer creates a Renderer.
func NewRenderer() *Renderer { return &Renderer{} }

// Render returns subject and body for ch: HTML for email, JSON for webhook and nats, HTML text for telegram.
func (r *Renderer) Render(ch model.Channel, a *model.Alert) (string, string, error) {
	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(a.Severity)), a.Title)
	switch ch {
	case model.ChannelEmail:
		body, err := renderEmail(a)
		return subject, body, err
	case model.ChannelWebhook, model.ChannelNATS:
		body, err := renderJSON(a)
		return subject, body, err
	case model.ChannelTelegram:
		return subject, renderTelegram(a), nil
	default:
		return "", "", &model.ValidationError{Field: "channel", Reason: fmt.Sprintf("unsupported channel %q", ch)}
	}
}

func renderEmail(a *model.Alert) (string, error) {
	color := severityColor[a.Severity]
	if color == "" {
		color = "#333333"
	}
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Alert  *model.Alert
		Color  string
		Raised string
		Facts  []fact
	}{a, color, a.CreatedAt.Format("2006-01-02 15:04 MST"), contextFacts(a.Context)})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}

type alertPayload struct {
	Event string       `json:"event"`
	Alert *model.Alert `json:"alert"`
}

func renderJSON(a *model.Alert) (string, error) {
	b, err := json.Marshal(alertPayload{Event: "alert_raised", Alert: a})
	if err != nil {
		return "", fmt.Errorf("render json: %w", err)
	}
	return string(b), nil
}

func renderTelegram(a *model.Alert) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s <b>%s</b>\n", severityIcon[a.Severity], html.EscapeString(a.Title)))
	b.WriteString(fmt.Sprintf("Unit: %s\n\n", html.EscapeString(a.UnitName)))
	b.WriteString(html.EscapeString(a.Message))
	b.WriteString("\n")
	for _, f := range contextFacts(a.Context) {
		b.WriteString(fmt.Sprintf("  %s: %s\n", f.Label, f.Value))
	}
	if len(a.SuggestedActions) > 0 {
		b.WriteString("\n<b>Actions:</b>\n")
		for _, act := range a.SuggestedActions {
			b.WriteString("• " + html.EscapeString(act) + "\n")
		}
	}
	return b.String()
}

func contextFacts(c model.AlertContext) []fact {
	switch {
	case c.Deviation != nil:
		d := c.Deviation
		return []fact{
			{"Actual progress", fmt.Sprintf("%.1f%%", d.ActualProgress)},
			{"Ideal progress", fmt.Sprintf("%.1f%%", d.IdealProgress)},
			{"Deviation", fmt.Sprintf("%+.1f%%", d.Deviation)},
			{"Days remaining", fmt.Sprintf("%d", d.DaysRemaining)},
			{"Daily target", fmt.Sprintf("%.1f", d.DailyTarget)},
		}
	case c.Cost != nil:
		k := c.Cost
		return []fact{
			{"Current CPL", fmt.Sprintf("%.2f", k.CurrentCPL)},
			{"Target CPL", fmt.Sprintf("%.2f", k.TargetCPL)},
			{"Increase", fmt.Sprintf("%+.1f%%", k.IncreasePercent)},
			{"Conversions", fmt.Sprintf("%d", k.Conversions)},
		}
	case c.Budget != nil:
		k := c.Budget
		return []fact{
			{"Spend", fmt.Sprintf("%.2f / %.2f", k.SpendToDate, k.MaxBudget)},
			{"Budget used", fmt.Sprintf("%.1f%%", k.BudgetUsedPercent)},
			{"Goal progress", fmt.Sprintf("%.1f%%", k.GoalProgressPercent)},
		}
	}
	return nil
}
