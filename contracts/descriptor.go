package contracts

import (
	"fmt"
	"net/url"
	"strings"
)

// ConnectionDescriptor is the immutable configuration used to (re)create a
// logical broker connection. It is supplied by the caller; nothing here is
// read from the environment or from files.
type ConnectionDescriptor struct {
	Host        string
	Port        int
	VirtualHost string
	Username    string
	Password    string
}

// DefaultDescriptor returns a descriptor for a local broker with the
// conventional guest credentials.
func DefaultDescriptor() ConnectionDescriptor {
	return ConnectionDescriptor{
		Host:        "localhost",
		Port:        5672,
		VirtualHost: "/",
		Username:    "guest",
		Password:    "guest",
	}
}

// URL renders the descriptor as an amqp URI
func (d ConnectionDescriptor) URL() string {
	vhost := strings.TrimPrefix(d.VirtualHost, "/")
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(d.Username, d.Password),
		Host:    fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:    "/" + vhost,
		RawPath: "/" + url.PathEscape(vhost),
	}
	return u.String()
}

// Redacted renders the descriptor without credentials, safe for logging
func (d ConnectionDescriptor) Redacted() string {
	vhost := strings.TrimPrefix(d.VirtualHost, "/")
	return fmt.Sprintf("amqp://%s@%s:%d/%s", d.Username, d.Host, d.Port, vhost)
}
