package notify

import (
	"context"

	"carvo/internal/models"
	"carvo/internal/util"

	"go.uber.org/zap"
)

// Notification types stored on notification rows
const (
	TypeOrder      = "order"
	TypePayment    = "payment"
	TypeDelivery   = "delivery"
	TypeSettlement = "settlement"
	TypeWallet     = "wallet"
	TypeInvoice    = "invoice"
)

// Store is the slice of the repository the dispatcher needs
type Store interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	ListUserIDsByRole(ctx context.Context, role string) ([]int64, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// Mailer delivers a rendered HTML email
type Mailer interface {
	Send(ctx context.Context, to, subject, html string) error
}

// LogMailer writes outgoing mail to the log instead of an SMTP relay
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.Component("mailer")}
}

func (m *LogMailer) Send(ctx context.Context, to, subject, html string) error {
	m.logger.Info("Email sent",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(html)))
	return nil
}

// Dispatcher writes in-app notifications and sends emails. None of its
// methods fail the caller; errors are logged.
type Dispatcher struct {
	store  Store
	mailer Mailer
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. A nil mailer falls back to LogMailer.
func NewDispatcher(store Store, mailer Mailer) *Dispatcher {
	if mailer == nil {
		mailer = NewLogMailer()
	}
	return &Dispatcher{
		store:  store,
		mailer: mailer,
		logger: util.Component("notify"),
	}
}

// Notify stores one notification for userID
func (d *Dispatcher) Notify(ctx context.Context, userID int64, kind, title, message string, relatedID *int64) {
	n := &models.Notification{
		UserID:    userID,
		Type:      kind,
		Title:     title,
		Message:   message,
		RelatedID: relatedID,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		d.logger.Error("Failed to create notification",
			zap.Int64("user_id", userID),
			zap.String("type", kind),
			zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues(kind).Inc()
}

// NotifyAllAdmins stores the same notification for every admin
func (d *Dispatcher) NotifyAllAdmins(ctx context.Context, kind, title, message string, relatedID *int64) {
	ids, err := d.store.ListUserIDsByRole(ctx, models.RoleAdmin)
	if err != nil {
		d.logger.Error("Failed to list admins", zap.Error(err))
		return
	}
	for _, id := range ids {
		d.Notify(ctx, id, kind, title, message, relatedID)
	}
}

// SendEmail delivers html to a single address
func (d *Dispatcher) SendEmail(ctx context.Context, to, subject, html string) {
	if to == "" {
		return
	}
	if err := d.mailer.Send(ctx, to, subject, html); err != nil {
		d.logger.Error("Failed to send email",
			zap.String("to", to),
			zap.String("subject", subject),
			zap.Error(err))
		return
	}
	util.NotificationsSentTotal.WithLabelValues("email").Inc()
}

// emailUser renders tmpl for the user's address and sends it
func (d *Dispatcher) emailUser(ctx context.Context, userID int64, subject, tmpl string, data interface{}) {
	user, err := d.store.GetUserByID(ctx, userID)
	if err != nil {
		d.logger.Warn("Skipping email for unknown user", zap.Int64("user_id", userID), zap.Error(err))
		return
	}

	body, err := render(tmpl, data)
	if err != nil {
		d.logger.Error("Failed to render email", zap.String("template", tmpl), zap.Error(err))
		return
	}
	d.SendEmail(ctx, user.Email, subject, body)
}
