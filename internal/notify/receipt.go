package notify

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/rifqisaleh/revoubank/internal/models"
)

var subjects = map[models.TransactionType]string{
	models.Deposit:            "Deposit Confirmation & Receipt",
	models.Withdrawal:         "Withdrawal Confirmation & Receipt",
	models.Transfer:           "Transfer Confirmation & Receipt",
	models.ExternalDeposit:    "External Deposit Confirmation & Receipt",
	models.ExternalWithdrawal: "External Withdrawal Confirmation & Receipt",
	models.BillPayment:        "Bill Payment Confirmation & Receipt",
}

var labels = map[models.TransactionType]string{
	models.Deposit:            "deposit",
	models.Withdrawal:         "withdrawal",
	models.Transfer:           "transfer",
	models.ExternalDeposit:    "external deposit",
	models.ExternalWithdrawal: "external withdrawal",
	models.BillPayment:        "bill payment",
}

var receiptTmpl = template.Must(template.New("receipt").Parse(`Dear {{.Username}},

Your {{.Label}} of ${{.Amount}} has been processed.
Transaction ID: {{.ID}}
Reference: {{.Reference}}
Date: {{.Date}}
{{- if .BankName}}
Bank: {{.BankName}}{{if .ExternalAccount}} ({{.ExternalAccount}}){{end}}
{{- end}}
{{- if .BillerName}}
Biller: {{.BillerName}} ({{.Method}})
{{- end}}
{{- if .AccountNumber}}
Account: {{.AccountNumber}}
New Balance: ${{.Balance}}
{{- end}}

Thank you for using RevouBank.
`))

var lockedTmpl = template.Must(template.New("locked").Parse(`Dear {{.Username}},

Multiple failed login attempts have been detected on your account.
Your account has been temporarily locked until {{.Until}}.

If this wasn't you, please secure your account immediately.

Regards,
RevouBank
`))

// Render turns an event into the message sent to its recipient.
func Render(ev Event) (Message, error) {
	var (
		subject string
		body    strings.Builder
		err     error
	)
	switch ev.Kind {
	case TransactionCompleted:
		if ev.Transaction == nil {
			return Message{}, errors.New("transaction event without transaction")
		}
		t := ev.Transaction
		var accountNumber, balance string
		if a := ev.Account; a != nil {
			accountNumber, balance = a.AccountNumber, a.Balance.StringFixed(2)
		}
		subject = subjects[t.Type]
		if subject == "" {
			subject = "Transaction Confirmation & Receipt"
		}
		err = receiptTmpl.Execute(&body, map[string]any{
			"Username":        ev.Recipient.Username,
			"Label":           labels[t.Type],
			"Amount":          t.Amount.StringFixed(2),
			"ID":              t.ID,
			"Reference":       t.Reference,
			"Date":            t.Timestamp.UTC().Format(time.RFC1123),
			"BankName":        t.BankName,
			"ExternalAccount": t.ExternalAccountNumber,
			"BillerName":      t.BillerName,
			"Method":          t.PaymentMethod,
			"AccountNumber":   accountNumber,
			"Balance":         balance,
		})
	case AccountLocked:
		subject = "Alert: Suspicious Login Attempts Detected"
		err = lockedTmpl.Execute(&body, map[string]any{
			"Username": ev.Recipient.Username,
			"Until":    ev.LockedUntil.UTC().Format(time.RFC1123),
		})
	default:
		return Message{}, fmt.Errorf("unknown notification kind %q", ev.Kind)
	}
	if err != nil {
		return Message{}, err
	}
	return Message{To: ev.Recipient.Email, Subject: subject, Body: body.String()}, nil
}
