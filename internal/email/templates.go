package email

import (
	"fmt"
	"html"
	"sort"
	"time"
)

// SeverityLabel maps a numeric severity to the label shown in alert emails.
func SeverityLabel(severity int) string {
	switch {
	case severity >= 9:
		return "Critical"
	case severity >= 7:
		return "High"
	case severity >= 5:
		return "Medium"
	default:
		return "Low"
	}
}

// severityColor maps a numeric severity to the banner color.
func severityColor(severity int) string {
	switch {
	case severity >= 9:
		return "#d63638"
	case severity >= 7:
		return "#f56e28"
	case severity >= 5:
		return "#f0b849"
	default:
		return "#72aee6"
	}
}

// AlertEmailHTML returns the HTML body for a security alert email.
func AlertEmailHTML(appName, eventType string, severity int, originIP string, occurredAt time.Time, details map[string]interface{}) string {
	label := SeverityLabel(severity)
	color := severityColor(severity)

	detailRows := ""
	for _, key := range sortedKeys(details) {
		detailRows += fmt.Sprintf(`<tr>
      <td style="padding:6px 12px;font-size:13px;color:#8888a0;border-bottom:1px solid #eeeef2;">%s</td>
      <td style="padding:6px 12px;font-size:13px;color:#1a1a2e;border-bottom:1px solid #eeeef2;">%s</td>
    </tr>`, html.EscapeString(key), html.EscapeString(fmt.Sprintf("%v", details[key])))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Security alert</title>
</head>
<body style="margin:0;padding:0;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;background-color:#f4f5f7;">
<table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#f4f5f7;padding:40px 0;">
<tr><td align="center">
<table width="520" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:8px;overflow:hidden;box-shadow:0 2px 8px rgba(0,0,0,0.08);">
  <tr><td style="padding:20px 40px;background-color:%s;">
    <h1 style="margin:0;font-size:20px;color:#ffffff;">%s severity alert</h1>
  </td></tr>
  <tr><td style="padding:24px 40px 8px;">
    <p style="margin:0 0 16px;font-size:15px;color:#4a4a68;line-height:1.6;">
      <strong>%s</strong> detected the following event:
    </p>
  </td></tr>
  <tr><td style="padding:0 40px 16px;">
    <table width="100%%" cellpadding="0" cellspacing="0" style="border:1px solid #eeeef2;border-radius:6px;">
      <tr>
        <td style="padding:6px 12px;font-size:13px;color:#8888a0;border-bottom:1px solid #eeeef2;">Event</td>
        <td style="padding:6px 12px;font-size:13px;color:#1a1a2e;border-bottom:1px solid #eeeef2;">%s</td>
      </tr>
      <tr>
        <td style="padding:6px 12px;font-size:13px;color:#8888a0;border-bottom:1px solid #eeeef2;">Severity</td>
        <td style="padding:6px 12px;font-size:13px;color:#1a1a2e;border-bottom:1px solid #eeeef2;">%d (%s)</td>
      </tr>
      <tr>
        <td style="padding:6px 12px;font-size:13px;color:#8888a0;border-bottom:1px solid #eeeef2;">Origin IP</td>
        <td style="padding:6px 12px;font-size:13px;color:#1a1a2e;border-bottom:1px solid #eeeef2;">%s</td>
      </tr>
      <tr>
        <td style="padding:6px 12px;font-size:13px;color:#8888a0;border-bottom:1px solid #eeeef2;">Time</td>
        <td style="padding:6px 12px;font-size:13px;color:#1a1a2e;border-bottom:1px solid #eeeef2;">%s</td>
      </tr>
      %s
    </table>
  </td></tr>
  <tr><td style="padding:0 40px 24px;">
    <p style="margin:0;font-size:13px;color:#8888a0;line-height:1.5;">
      Review the audit log for surrounding activity before taking action.
    </p>
  </td></tr>
  <tr><td style="padding:16px 40px;background-color:#f9f9fc;border-top:1px solid #eeeef2;">
    <p style="margin:0;font-size:12px;color:#aaaabc;text-align:center;">
      &copy; %s &mdash; This is an automated message, please do not reply.
    </p>
  </td></tr>
</table>
</td></tr>
</table>
</body>
</html>`, color, label,
		html.EscapeString(appName),
		html.EscapeString(eventType),
		severity, label,
		html.EscapeString(originIP),
		occurredAt.UTC().Format(time.RFC1123),
		detailRows,
		html.EscapeString(appName))
}

// AlertEmailText returns the plain-text body for a security alert email.
func AlertEmailText(appName, eventType string, severity int, originIP string, occurredAt time.Time, details map[string]interface{}) string {
	body := fmt.Sprintf(`%s severity alert

%s detected the following event:

Event:     %s
Severity:  %d (%s)
Origin IP: %s
Time:      %s
`, SeverityLabel(severity), appName, eventType, severity, SeverityLabel(severity), originIP, occurredAt.UTC().Format(time.RFC1123))

	for _, key := range sortedKeys(details) {
		body += fmt.Sprintf("%s: %v\n", key, details[key])
	}

	body += fmt.Sprintf("\nReview the audit log for surrounding activity before taking action.\n\n- %s", appName)
	return body
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
