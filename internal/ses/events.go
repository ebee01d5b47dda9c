package ses

import "time"

// SNSEnvelope is the outer SNS message wrapping every provider event. Type
// distinguishes real notifications from the one-time subscription
// confirmation handshake.
type SNSEnvelope struct {
	Type             string `json:"Type"`
	MessageID        string `json:"MessageId"`
	TopicArn         string `json:"TopicArn"`
	Subject          string `json:"Subject"`
	Message          string `json:"Message"`
	Timestamp        string `json:"Timestamp"`
	SubscribeURL     string `json:"SubscribeURL"`
	SignatureVersion string `json:"SignatureVersion"`
	Signature        string `json:"Signature"`
	SigningCertURL   string `json:"SigningCertURL"`
}

const (
	EnvelopeNotification             = "Notification"
	EnvelopeSubscriptionConfirmation = "SubscriptionConfirmation"
)

// EventType is the inner SES event discriminator.
type EventType string

const (
	EventSend             EventType = "Send"
	EventDelivery         EventType = "Delivery"
	EventBounce           EventType = "Bounce"
	EventComplaint        EventType = "Complaint"
	EventReject           EventType = "Reject"
	EventOpen             EventType = "Open"
	EventClick            EventType = "Click"
	EventRenderingFailure EventType = "Rendering Failure"
	EventDeliveryDelay    EventType = "DeliveryDelay"
	EventSubscription     EventType = "Subscription"
)

// Notification is the inner SES event, a tagged union: exactly one of the
// record pointers is set, named by EventType.
type Notification struct {
	EventType     EventType               `json:"eventType"`
	Mail          Mail                    `json:"mail"`
	Bounce        *BounceRecord           `json:"bounce,omitempty"`
	Complaint     *ComplaintRecord        `json:"complaint,omitempty"`
	Delivery      *DeliveryRecord         `json:"delivery,omitempty"`
	Reject        *RejectRecord           `json:"reject,omitempty"`
	Open          *OpenRecord             `json:"open,omitempty"`
	Click         *ClickRecord            `json:"click,omitempty"`
	Failure       *RenderingFailureRecord `json:"failure,omitempty"`
	DeliveryDelay *DeliveryDelayRecord    `json:"deliveryDelay,omitempty"`
}

// Mail describes the original message the event refers to.
type Mail struct {
	Timestamp        time.Time    `json:"timestamp"`
	MessageID        string       `json:"messageId"`
	Source           string       `json:"source"`
	Destination      []string     `json:"destination"`
	HeadersTruncated bool         `json:"headersTruncated"`
	Headers          []MailHeader `json:"headers"`
}

// MailHeader is one name/value pair from the original message.
type MailHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header returns the first header with the given name, case-sensitive the
// way the provider echoes it back.
func (m *Mail) Header(name string) string {
	for _, h := range m.Headers {
		if h.Name == name {
			return h.Value
		}
	}
	return ""
}

const (
	BounceTypePermanent    = "Permanent"
	BounceTypeTransient    = "Transient"
	BounceTypeUndetermined = "Undetermined"
)

// BounceRecord carries bounce details. Only Permanent bounces suppress.
type BounceRecord struct {
	BounceType        string             `json:"bounceType"`
	BounceSubType     string             `json:"bounceSubType"`
	BouncedRecipients []BouncedRecipient `json:"bouncedRecipients"`
	Timestamp         time.Time          `json:"timestamp"`
	FeedbackID        string             `json:"feedbackId"`
}

// BouncedRecipient identifies one failed recipient with the SMTP diagnostic.
type BouncedRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	DiagnosticCode string `json:"diagnosticCode"`
}

// ComplaintRecord carries a spam complaint.
type ComplaintRecord struct {
	ComplainedRecipients  []ComplainedRecipient `json:"complainedRecipients"`
	ComplaintFeedbackType string                `json:"complaintFeedbackType"`
	Timestamp             time.Time             `json:"timestamp"`
	FeedbackID            string                `json:"feedbackId"`
}

// ComplainedRecipient identifies one complaining recipient.
type ComplainedRecipient struct {
	EmailAddress string `json:"emailAddress"`
}

// DeliveryRecord confirms acceptance by the receiving MTA.
type DeliveryRecord struct {
	Timestamp            time.Time `json:"timestamp"`
	ProcessingTimeMillis int64     `json:"processingTimeMillis"`
	Recipients           []string  `json:"recipients"`
	SMTPResponse         string    `json:"smtpResponse"`
}

// RejectRecord reports a synchronous provider rejection (e.g. a virus scan).
type RejectRecord struct {
	Reason string `json:"reason"`
}

// OpenRecord is an open-tracking pixel hit.
type OpenRecord struct {
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

// ClickRecord is a click-tracking redirect hit.
type ClickRecord struct {
	Link      string    `json:"link"`
	IPAddress string    `json:"ipAddress"`
	UserAgent string    `json:"userAgent"`
	Timestamp time.Time `json:"timestamp"`
}

// RenderingFailureRecord reports a provider-side template failure.
type RenderingFailureRecord struct {
	ErrorMessage string `json:"errorMessage"`
	TemplateName string `json:"templateName"`
}

// DeliveryDelayRecord reports a deferred delivery the provider will retry.
type DeliveryDelayRecord struct {
	DelayType         string             `json:"delayType"`
	ExpirationTime    time.Time          `json:"expirationTime"`
	DelayedRecipients []DelayedRecipient `json:"delayedRecipients"`
	Timestamp         time.Time          `json:"timestamp"`
}

// DelayedRecipient identifies one deferred recipient.
type DelayedRecipient struct {
	EmailAddress   string `json:"emailAddress"`
	Status         string `json:"status"`
	DiagnosticCode string `json:"diagnosticCode"`
}
