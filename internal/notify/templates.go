package notify

import (
	"bytes"
	"html/template"
)

const (
	tmplOrderConfirmation = "order_confirmation"
	tmplDeliveryOTP       = "delivery_otp"
	tmplInvoice           = "invoice"
)

var emails = template.Must(template.New("emails").Parse(`
{{define "order_confirmation"}}<h2>Order #{{.OrderID}} confirmed</h2>
<p>Thanks for shopping with Carvo. We have reserved {{len .Items}} item(s) for you.</p>
<table>{{range .Items}}<tr><td>Part #{{.PartID}}</td><td>x{{.Quantity}}</td><td>&#8377;{{.Price.StringFixed 2}}</td></tr>{{end}}</table>
<p>Amount payable: <strong>&#8377;{{.FinalAmount.StringFixed 2}}</strong></p>{{end}}

{{define "delivery_otp"}}<h2>Order #{{.OrderID}} is out for delivery</h2>
<p>Share this code with the delivery agent: <strong>{{.DeliveryOTP}}</strong></p>{{end}}

{{define "invoice"}}<h2>Invoice {{.InvoiceNumber}}</h2>
<p>Invoice for order #{{.OrderID}}. Total: &#8377;{{.Total.StringFixed 2}}</p>{{end}}
`))

func render(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := emails.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
