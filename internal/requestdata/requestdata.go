package requestdata

import (
	"context"
)

type requestDataKey struct{}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, requestDataKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	val := ctx.Value(requestDataKey{})
	if rd, ok := val.(*RequestData); ok {
		return rd
	}
	return nil
}

// RequestData carries the resolved principal for one request. ExternalID is
// the provider-issued identifier from the verified bearer token; it is empty
// for anonymous requests.
type RequestData struct {
	TokenString string
	ExternalID  string
	Name        string
}
