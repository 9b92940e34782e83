package resolver

import (
	"fmt"
	"strings"

	"github.com/sigilforge/sigilforge/internal/credential"
)

// InvalidFormatError reports a malformed auth:// reference.
type InvalidFormatError struct {
	Message string
}

func (e *InvalidFormatError) Error() string { return fmt.Sprintf("resolver: invalid format: %s", e.Message) }

// UnsupportedSchemeError reports a recognized-but-unimplemented URI
// scheme (currently vals:ref+...).
type UnsupportedSchemeError struct {
	Scheme string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("resolver: unsupported scheme: %s", e.Scheme)
}

const valsRefPrefix = "vals:ref+"

// ParseReference exposes the reference grammar to callers outside this
// package, such as the IPC client's fallback resolution path, which
// needs to decompose a reference without going through Resolve.
func ParseReference(raw string) (credential.Ref, error) {
	return parseReference(raw)
}

// parseReference parses an auth://<service>/<account>/<credential_type>
// URI, or recognizes the reserved vals:ref+... scheme and reports it
// as unsupported. All other forms fail with InvalidFormatError.
func parseReference(raw string) (credential.Ref, error) {
	if strings.HasPrefix(raw, valsRefPrefix) {
		return credential.Ref{}, &UnsupportedSchemeError{Scheme: "vals:ref+"}
	}

	const schemePrefix = "auth://"
	if !strings.HasPrefix(raw, schemePrefix) {
		return credential.Ref{}, &InvalidFormatError{Message: fmt.Sprintf("unrecognized reference %q", raw)}
	}

	rest := strings.TrimPrefix(raw, schemePrefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return credential.Ref{}, &InvalidFormatError{Message: fmt.Sprintf("expected auth://service/account/credential_type, got %q", raw)}
	}
	service, account, typeName := parts[0], parts[1], parts[2]
	if service == "" || account == "" || typeName == "" {
		return credential.Ref{}, &InvalidFormatError{Message: fmt.Sprintf("empty path segment in %q", raw)}
	}

	ty, err := credential.ParseType(typeName)
	if err != nil {
		return credential.Ref{}, &InvalidFormatError{Message: fmt.Sprintf("unknown credential type %q", typeName)}
	}

	return credential.Ref{
		Service: credential.NormalizeService(service),
		Account: account,
		Type:    ty,
	}, nil
}
