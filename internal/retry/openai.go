package retry

import (
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// FromOpenAI classifies an error returned by the go-openai client by its HTTP status.
func FromOpenAI(provider string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		e := FromStatus(provider, apiErr.HTTPStatusCode, apiErr.Message)
		e.Err = err
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		e := FromStatus(provider, reqErr.HTTPStatusCode, "")
		e.Err = err
		return e
	}
	return Classify(provider, err)
}
