// Package mailer delivers reminder mail.
//
// A Mailer composes RFC 5322 messages and hands them to a Transport under a
// shared rate limit, retrying failed deliveries with jittered exponential
// backoff. SMTPTransport talks to a relay; LogMailer only logs, for dry runs.
package mailer
