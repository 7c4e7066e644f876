package app

import (
	"fmt"
	"html/template"
	"strings"
	"time"

	"yardhop/pkg/domain"
	"yardhop/pkg/mailer"
)

const digestTemplateText = `<!DOCTYPE html>
<html>
  <body style="font-family: sans-serif; color: #222222;">
    <p>Hi {{.Name}},</p>
    <p>Yard sales happening near you this week:</p>
    <ul>
      {{- range .Sales}}
      <li style="margin-bottom: 8px;">
        <a href="{{.URL}}">{{.Title}}</a>{{if .Promoted}} &#9733;{{end}}<br>
        {{.When}}{{if .Where}} &middot; {{.Where}}{{end}}
      </li>
      {{- end}}
    </ul>
    <p>Happy hunting!</p>
  </body>
</html>
`

var digestTemplate = template.Must(template.New("digest").Parse(digestTemplateText))

type digestEmailData struct {
	Name  string
	Sales []digestEmailSale
}

type digestEmailSale struct {
	Title    string
	When     string
	Where    string
	URL      string
	Promoted bool
}

// renderDigestEmail produces the weekly digest message for one recipient.
// The listing address stays private; only the zip is shown.
func renderDigestEmail(to, displayName string, sales []domain.Sale, baseURL string, now time.Time) (mailer.Message, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = "neighbor"
	}
	base := strings.TrimSuffix(baseURL, "/")

	data := digestEmailData{Name: name, Sales: make([]digestEmailSale, 0, len(sales))}
	for _, s := range sales {
		data.Sales = append(data.Sales, digestEmailSale{
			Title:    s.Title,
			When:     s.StartsAt.Format("Mon Jan 2, 3:04 PM"),
			Where:    s.Zip,
			URL:      base + "/sales/" + s.ID,
			Promoted: s.Promoted(now),
		})
	}

	var html strings.Builder
	if err := digestTemplate.Execute(&html, data); err != nil {
		return mailer.Message{}, fmt.Errorf("execute digest template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\nYard sales happening near you this week:\n\n", name)
	for _, s := range data.Sales {
		fmt.Fprintf(&text, "* %s (%s", s.Title, s.When)
		if s.Where != "" {
			fmt.Fprintf(&text, ", %s", s.Where)
		}
		fmt.Fprintf(&text, ")\n  %s\n", s.URL)
	}
	text.WriteString("\nHappy hunting!\n")

	subject := fmt.Sprintf("%d yard sales near you this week", len(sales))
	if len(sales) == 1 {
		subject = "A yard sale near you this week"
	}

	return mailer.Message{
		To:      to,
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
