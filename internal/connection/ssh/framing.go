package ssh

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/nerrad567/entrance/internal/connection"
)

const (
	baseNamespace  = "urn:ietf:params:xml:ns:netconf:base:1.0"
	baseCapability = "urn:ietf:params:netconf:base:1.0"

	// frameDelimiter ends every NETCONF 1.0 message.
	frameDelimiter = "]]>]]>"

	xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>`
)

var errEmptyReply = errors.New("netconf: empty reply")

func clientHello() string {
	return xmlHeader + `<hello xmlns="` + baseNamespace + `"><capabilities><capability>` +
		baseCapability + `</capability></capabilities></hello>`
}

// writeFrame writes msg followed by the end-of-message delimiter.
func writeFrame(w io.Writer, msg string) error {
	_, err := io.WriteString(w, msg+frameDelimiter)
	return err
}

// readFrame reads one message and returns it without the delimiter.
func readFrame(r *bufio.Reader) (string, error) {
	var buf strings.Builder
	for {
		part, err := r.ReadString('>')
		buf.WriteString(part)
		if strings.HasSuffix(buf.String(), frameDelimiter) {
			return strings.TrimSpace(strings.TrimSuffix(buf.String(), frameDelimiter)), nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) && buf.Len() > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
	}
}

func rpcMessage(id uint64, body string) string {
	return fmt.Sprintf(`%s<rpc message-id="%d" xmlns="%s">%s</rpc>`, xmlHeader, id, baseNamespace, body)
}

// wrapFilter accepts a bare subtree or a complete <filter> element.
func wrapFilter(filter string) string {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return ""
	}
	if strings.HasPrefix(filter, "<filter") {
		return filter
	}
	return `<filter type="subtree">` + filter + `</filter>`
}

// wrapConfig accepts bare configuration or a complete <config> element.
func wrapConfig(config string) string {
	config = strings.TrimSpace(config)
	if strings.HasPrefix(config, "<config") {
		return config
	}
	return `<config>` + config + `</config>`
}

func getBody(filter string) string {
	return "<get>" + wrapFilter(filter) + "</get>"
}

func getConfigBody(filter string) string {
	return "<get-config><source><running/></source>" + wrapFilter(filter) + "</get-config>"
}

func editConfigBody(config string) string {
	return "<edit-config><target><candidate/></target>" + wrapConfig(config) + "</edit-config>"
}

const (
	commitBody         = "<commit/>"
	validateBody       = "<validate><source><candidate/></source></validate>"
	discardChangesBody = "<discard-changes/>"
	closeSessionBody   = "<close-session/>"
)

// parseReply checks that msg is an rpc-reply and whether it reports any
// rpc-error.
func parseReply(msg string) (*connection.Reply, error) {
	if strings.TrimSpace(msg) == "" {
		return nil, errEmptyReply
	}

	dec := xml.NewDecoder(strings.NewReader(msg))
	root := ""
	errorsSeen := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("netconf: malformed reply: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if root == "" {
			root = start.Name.Local
		}
		if start.Name.Local == "rpc-error" {
			errorsSeen++
		}
	}

	if root != "rpc-reply" {
		return nil, fmt.Errorf("netconf: expected rpc-reply, got %q", root)
	}
	return &connection.Reply{XML: msg, OK: errorsSeen == 0}, nil
}
