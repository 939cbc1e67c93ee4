package library

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type resultState uint8

const (
	stateUnfetched resultState = iota
	stateOk
	stateErr
)

// Result is the outcome of one source fetch: Unfetched (the zero value),
// Ok(value) or Err(reason). Keeping the three apart is what lets a refresh
// tell "no data" from "zero stock".
type Result[T any] struct {
	state  resultState
	value  T
	reason string
}

// Ok wraps a successful payload.
func Ok[T any](v T) Result[T] {
	return Result[T]{state: stateOk, value: v}
}

// Err records an explicit source failure.
func Err[T any](reason string) Result[T] {
	if reason == "" {
		reason = "unknown error"
	}
	return Result[T]{state: stateErr, reason: reason}
}

// Unfetched returns the zero Result.
func Unfetched[T any]() Result[T] {
	return Result[T]{}
}

// Get returns the payload and true for an Ok result.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.state == stateOk
}

// Error returns the failure reason and true for an Err result.
func (r Result[T]) Error() (string, bool) {
	return r.reason, r.state == stateErr
}

// Fetched reports whether the source answered at all.
func (r Result[T]) Fetched() bool {
	return r.state != stateUnfetched
}

// IsOk reports whether the result carries a payload.
func (r Result[T]) IsOk() bool {
	return r.state == stateOk
}

// IsErr reports whether the result is an explicit error marker.
func (r Result[T]) IsErr() bool {
	return r.state == stateErr
}

type errorMarker struct {
	Error string `json:"error"`
}

// MarshalJSON encodes Ok as the payload, Err as {"error": reason} and
// Unfetched as null.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	switch r.state {
	case stateOk:
		return json.Marshal(r.value)
	case stateErr:
		return json.Marshal(errorMarker{Error: r.reason})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON is the inverse of MarshalJSON. An object whose only key is
// "error" decodes to Err.
func (r *Result[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Result[T]{}
		return nil
	}

	if data[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err == nil && len(probe) == 1 {
			if raw, ok := probe["error"]; ok {
				var reason string
				if err := json.Unmarshal(raw, &reason); err != nil {
					return fmt.Errorf("decoding error marker: %w", err)
				}
				*r = Err[T](reason)
				return nil
			}
		}
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ok(v)
	return nil
}

// Branch identifies one of the two physical branches.
type Branch string

const (
	BranchPrimary   Branch = "primary"
	BranchSecondary Branch = "secondary"
)

// BranchRow is one holding row from the paper-stock source. The link fields are
// only filled for loanable copies at the primary branch.
type BranchRow struct {
	Branch          Branch `json:"branch"`
	Title           string `json:"title,omitempty"`
	CallNumber      string `json:"callNumber,omitempty"`
	Loanable        bool   `json:"loanable"`
	RecKey          string `json:"recKey,omitempty"`
	BookKey         string `json:"bookKey,omitempty"`
	PublishFormCode string `json:"publishFormCode,omitempty"`
}

// PaperStockPayload is the paper-stock source response.
type PaperStockPayload struct {
	Rows []BranchRow `json:"rows"`
}

// EbookItem is one title in an e-book source response.
type EbookItem struct {
	Title        string `json:"title"`
	Author       string `json:"author"`
	ISBN         string `json:"isbn,omitempty"`
	Publisher    string `json:"publisher,omitempty"`
	Owned        bool   `json:"owned"`
	Subscription bool   `json:"subscription"`
	Available    bool   `json:"available"`
}

// EbookPayload is an e-book source response. Items is only required for
// sources whose counts must be re-derived through identity matching.
type EbookPayload struct {
	Total        int         `json:"total"`
	Available    int         `json:"available"`
	Owned        int         `json:"owned"`
	Subscription int         `json:"subscription"`
	Items        []EbookItem `json:"items,omitempty"`
}

// Payloads bundles every availability payload for one refresh.
type Payloads struct {
	PaperStock        Result[PaperStockPayload] `json:"paperStock"`
	EduEbook          Result[EbookPayload]      `json:"eduEbook"`
	CountyEbook       Result[EbookPayload]      `json:"countyEbook"`
	MetroEbook        Result[EbookPayload]      `json:"metroEbook"`
	SubscriptionEbook Result[EbookPayload]      `json:"subscriptionEbook"`
}

// Ebook returns the payload slot for an e-book source.
func (p *Payloads) Ebook(id SourceID) *Result[EbookPayload] {
	switch id {
	case SourceEduEbook:
		return &p.EduEbook
	case SourceCountyEbook:
		return &p.CountyEbook
	case SourceMetroEbook:
		return &p.MetroEbook
	case SourceSubscriptionEbook:
		return &p.SubscriptionEbook
	}
	return nil
}
