package server

import (
	"github.com/pkg/errors"
	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// CallController is the call-control boundary: place an outbound call
// leg, or push new markup into a live one.
type CallController interface {
	PlaceCall(to, twiml string) (callSid string, err error)
	UpdateLiveCall(callSid, twiml string) error
}

// TwilioController drives call control through the Twilio REST API.
// Safe for concurrent use across sessions.
type TwilioController struct {
	client *twilio.RestClient
	from   string
}

// NewTwilioController builds a controller for the given account. from
// is the caller-id number outbound calls originate from.
func NewTwilioController(accountSID, authToken, from string) *TwilioController {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &TwilioController{client: client, from: from}
}

func (t *TwilioController) PlaceCall(to, twiml string) (string, error) {
	params := &openapi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(t.from)
	params.SetTwiml(twiml)

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", errors.Wrap(err, "twilio: create call")
	}
	if resp.Sid == nil {
		return "", errors.New("twilio: create call returned no sid")
	}
	return *resp.Sid, nil
}

func (t *TwilioController) UpdateLiveCall(callSid, twiml string) error {
	params := &openapi.UpdateCallParams{}
	params.SetTwiml(twiml)

	_, err := t.client.Api.UpdateCall(callSid, params)
	return errors.Wrap(err, "twilio: update call")
}
