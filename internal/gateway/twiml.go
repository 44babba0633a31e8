package gateway

import (
	"github.com/twilio/twilio-go/twiml"
)

// MessageResponse renders a TwiML document replying with body.
func MessageResponse(body string) (string, error) {
	return twiml.Messages([]twiml.Element{
		&twiml.MessagingMessage{Body: body},
	})
}

// EmptyResponse renders a TwiML document that sends no reply.
func EmptyResponse() (string, error) {
	return twiml.Messages(nil)
}
