package remote

import "github.com/seantiz/bulkq/internal/model"

// Vocabulary maps raw wire statuses to canonical statuses.
type Vocabulary map[string]model.RemoteStatus

// FeedVocabulary is the status set reported for feed submissions.
var FeedVocabulary = Vocabulary{
	"_DONE_":                        model.StatusDone,
	"_AWAITING_ASYNCHRONOUS_REPLY_": model.StatusAwaitingAsyncReply,
	"_IN_PROGRESS_":                 model.StatusInProgress,
	"_IN_SAFETY_NET_":               model.StatusInSafetyNet,
	"_SUBMITTED_":                   model.StatusSubmitted,
	"_UNCONFIRMED_":                 model.StatusUnconfirmed,
	"_CANCELLED_":                   model.StatusCancelled,
}

// ReportVocabulary is the status set reported for report requests. It adds
// done-without-data.
var ReportVocabulary = func() Vocabulary {
	v := make(Vocabulary, len(FeedVocabulary)+1)
	for raw, s := range FeedVocabulary {
		v[raw] = s
	}
	v["_DONE_NO_DATA_"] = model.StatusDoneNoData
	return v
}()

// VocabularyFor returns the vocabulary of a pipeline kind.
func VocabularyFor(k model.Kind) Vocabulary {
	if k == model.KindReport {
		return ReportVocabulary
	}
	return FeedVocabulary
}

// Map returns the canonical status for raw, or StatusUnknown.
func (v Vocabulary) Map(raw string) model.RemoteStatus {
	if s, ok := v[raw]; ok {
		return s
	}
	return model.StatusUnknown
}

// Raw returns the wire value for a canonical status, or "".
func (v Vocabulary) Raw(s model.RemoteStatus) string {
	for raw, c := range v {
		if c == s {
			return raw
		}
	}
	return ""
}
