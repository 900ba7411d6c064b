package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"text/template"
)

var ErrUnknownTemplate = errors.New("unknown template")

type message struct {
	subject *template.Template
	body    *template.Template
}

func mustMessage(name, subject, body string) message {
	return message{
		subject: template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(subject)),
		body:    template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(body)),
	}
}

var templates = map[string]message{
	"order_received": mustMessage("order_received",
		`We received your order {{.order_id}}`,
		`Hi {{.customer_name}},

Your order {{.order_id}} with {{.item_count}} item(s) totalling {{.total}} is awaiting payment.
`),
	"payment_receipt": mustMessage("payment_receipt",
		`Payment received for order {{.order_id}}`,
		`Hi {{.customer_name}},

We received {{.amount}} for order {{.order_id}}.
Payment reference: {{.reference}}
`),
	"payment_failed": mustMessage("payment_failed",
		`Payment failed for order {{.order_id}}`,
		`Hi {{.customer_name}},

The payment for order {{.order_id}} (reference {{.reference}}) did not go through.
Please place the order again to retry.
`),
	"payment_anomaly": mustMessage("payment_anomaly",
		`[action required] payment anomaly on order {{.order_id}}`,
		`Reconciliation flagged order {{.order_id}} for review.

Customer:  {{.customer_name}} <{{.customer_email}}>
Reference: {{.reference}}
Status:    {{.status}}
Amount:    {{.amount}}
Source:    {{.source}}

{{.detail}}
`),
}

// Render produces the subject and body for template name.
func Render(name string, data map[string]any) (string, string, error) {
	msg, ok := templates[name]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	var subject, body bytes.Buffer
	if err := msg.subject.Execute(&subject, data); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := msg.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}

	return subject.String(), body.String(), nil
}
