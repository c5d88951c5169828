package models

// MailConfig holds e-mail notification configuration.
type MailConfig struct {
	Recipients     []string `validate:"required,min=1,dive,email"`
	From           string   `validate:"required"`
	OnFailure      bool
	OnSuccess      bool
	FailureSubject string `validate:"required"`
	SuccessSubject string `validate:"required"`
	Sendmail       string `validate:"required"`
	BodyFile       string // side file mirroring the report; empty keeps it in memory only
}

// MailMessage holds the data for a run report e-mail.
type MailMessage struct {
	Success   bool
	Target    string
	Host      string
	Timestamp string
	Body      string
}

// MailResult holds the result of a notification.
type MailResult struct {
	Subject   string
	Delivered []string
	Error     error
}
