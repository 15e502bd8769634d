package ledger

import (
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/helm/core/pkg/contracts"
)

func marshalLink(l contracts.Link) ([]byte, error) {
	return json.Marshal(l)
}

func unmarshalLink(data []byte, l *contracts.Link) error {
	return json.Unmarshal(data, l)
}

func sqlStateIs(err error, code string) bool {
	var pqErr *pq.Error
	if asPQError(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}

// asPQError finds the *pq.Error in err's chain. PostgresStore wraps driver
// failures with fmt.Errorf("%w"), so a plain type assertion would miss them.
func asPQError(err error, target **pq.Error) bool {
	return errors.As(err, target)
}
