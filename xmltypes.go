package webdav

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// x2s/s2x convert between the registry's combined "{ns}local" form used in
// PropertyRegistry and the xml.Name pairs the encoding/xml package wants.
func x2s(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

func s2x(s string) xml.Name {
	if strings.HasPrefix(s, "{") {
		if idx := strings.IndexByte(s, '}'); idx > 0 {
			return xml.Name{Space: s[1:idx], Local: s[idx+1:]}
		}
	}
	return xml.Name{Local: s}
}

// anyElem is a single, namespace-preserving XML element, used both for
// request properties (name only) and response property values
// (name + content).
type anyElem struct {
	XMLName xml.Name
	Inner   string `xml:",innerxml"`
}

type propElem struct {
	XMLName xml.Name  `xml:"DAV: prop"`
	Any     []anyElem `xml:",any"`
}

// PropfindRequest is the parsed body of a PROPFIND (§4.7): exactly one of
// AllProp or PropName is set, or Names holds an explicit property list.
type PropfindRequest struct {
	AllProp bool
	Include []string
	PropName bool
	Names    []string
}

type propfindElem struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Include  *propElem `xml:"DAV: include"`
	Prop     *propElem `xml:"DAV: prop"`
}

// ParsePropfindRequest parses a PROPFIND request body. An empty body (no
// bytes at all) is treated as an implicit allprop request per RFC 4918
// §9.1.
func ParsePropfindRequest(body io.Reader) (PropfindRequest, error) {
	var req PropfindRequest
	var pf propfindElem
	if err := xml.NewDecoder(body).Decode(&pf); err != nil {
		if err == io.EOF {
			req.AllProp = true
			return req, nil
		}
		return req, err
	}
	req.AllProp = pf.AllProp != nil
	req.PropName = pf.PropName != nil
	if pf.Include != nil {
		for _, a := range pf.Include.Any {
			req.Include = append(req.Include, x2s(a.XMLName))
		}
	}
	if pf.Prop != nil {
		for _, a := range pf.Prop.Any {
			if a.XMLName.Local == "" {
				continue
			}
			req.Names = append(req.Names, x2s(a.XMLName))
		}
	}
	return req, nil
}

// ProppatchInstruction is one set or remove directive from a
// propertyupdate body, in document order (§4.7 applies them in document
// order). IsSet is false for a remove; PropertyRegistry.Apply rejects a
// remove with 403, which fails the whole batch.
type ProppatchInstruction struct {
	Name  string
	Value string
	IsSet bool
}

type propertyupdateElem struct {
	XMLName xml.Name `xml:"DAV: propertyupdate"`
}

// ParseProppatchRequest walks the propertyupdate body manually (rather
// than unmarshaling wholesale) so set/remove ordering and grouping survive
// into the instruction list, matching the all-or-nothing, document-order
// semantics PROPPATCH requires.
func ParseProppatchRequest(body io.Reader) ([]ProppatchInstruction, error) {
	dec := xml.NewDecoder(body)
	if _, err := findElement(dec, "propertyupdate", ""); err != nil {
		return nil, err
	}

	var instructions []ProppatchInstruction
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		if ee, ok := tok.(xml.EndElement); ok {
			if ee.Name.Local == "propertyupdate" {
				return instructions, nil
			}
			continue
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if se.Name.Local != "set" && se.Name.Local != "remove" {
			if err := dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		isSet := se.Name.Local == "set"

		propStart, err := findElement(dec, "prop", se.Name.Local)
		if err != nil {
			return nil, err
		}
		if propStart == nil {
			continue
		}
		var p propElem
		if err := dec.DecodeElement(&p, propStart); err != nil {
			return nil, err
		}
		for _, a := range p.Any {
			instructions = append(instructions, ProppatchInstruction{
				Name:  x2s(a.XMLName),
				Value: a.Inner,
				IsSet: isSet,
			})
		}
	}
}

// findElement consumes tokens until a start element named name is found,
// EOF, or an end element named halt closes the enclosing scope (in which
// case it returns (nil, nil)).
func findElement(d *xml.Decoder, name, halt string) (*xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return nil, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			if se.Name.Local == name {
				return &se, nil
			}
			if err := d.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		if ee, ok := tok.(xml.EndElement); ok && halt != "" && ee.Name.Local == halt {
			return nil, nil
		}
	}
}

// LockInfoRequest is the parsed body of a LOCK acquire request (§4.7); a
// zero value with Refresh set true indicates an empty-body refresh.
type LockInfoRequest struct {
	Refresh bool
	Shared  bool
	Owner   string
}

type lockinfoElem struct {
	XMLName   xml.Name  `xml:"DAV: lockinfo"`
	Exclusive *struct{} `xml:"DAV: lockscope>exclusive"`
	Shared    *struct{} `xml:"DAV: lockscope>shared"`
	Write     *struct{} `xml:"DAV: locktype>write"`
	Owner     anyElem   `xml:"DAV: owner"`
}

// ParseLockInfoRequest parses the lockinfo body. An empty body signals a
// refresh (§4.7 LOCK, "Refresh: empty body").
func ParseLockInfoRequest(body io.Reader) (LockInfoRequest, error) {
	var req LockInfoRequest
	var li lockinfoElem
	if err := xml.NewDecoder(body).Decode(&li); err != nil {
		if err == io.EOF {
			req.Refresh = true
			return req, nil
		}
		return req, err
	}
	if li.Write == nil {
		return req, Status(http.StatusBadRequest, errBadIfHeader)
	}
	switch {
	case li.Exclusive != nil && li.Shared == nil:
		req.Shared = false
	case li.Shared != nil && li.Exclusive == nil:
		req.Shared = true
	default:
		return req, Status(http.StatusBadRequest, errBadIfHeader)
	}
	req.Owner = li.Owner.Inner
	return req, nil
}

// propstatGroup is one "found at this status" bucket inside a response
// element, matching PropertyRegistry.read's status->[(name,value)] map.
type propstatGroup struct {
	Status     int
	Properties []anyElem
}

// multistatusResponse is one <response> element: an href plus its grouped
// propstats, or (for whole-resource errors, e.g. a failed COPY member) a
// bare status with no propstats.
type multistatusResponse struct {
	Href      string
	Status    int // used only when Propstats is empty
	Propstats []propstatGroup
}

// MultistatusWriter accumulates per-resource results and renders the final
// <multistatus> document (§4.7 PROPFIND/PROPPATCH, §8's 207 scenarios).
type MultistatusWriter struct {
	responses []multistatusResponse
}

// AddPropstats adds a <response> grouping properties by their HTTP status.
// href is a raw path; Bytes URL-escapes each of its segments.
func (w *MultistatusWriter) AddPropstats(href string, byStatus map[int][]anyElem) {
	r := multistatusResponse{Href: href}
	for status, props := range byStatus {
		r.Propstats = append(r.Propstats, propstatGroup{Status: status, Properties: props})
	}
	w.responses = append(w.responses, r)
}

// AddStatus adds a bare <response><status> with no propstats, used for
// whole-member failures (e.g. a forbidden COPY/MOVE member).
func (w *MultistatusWriter) AddStatus(href string, status int) {
	w.responses = append(w.responses, multistatusResponse{Href: href, Status: status})
}

// Empty reports whether any response has been recorded.
func (w *MultistatusWriter) Empty() bool { return len(w.responses) == 0 }

type xmlResponse struct {
	XMLName   xml.Name     `xml:"D:response"`
	Href      string       `xml:"D:href"`
	Status    string       `xml:"D:status,omitempty"`
	Propstats []xmlPropstat `xml:"D:propstat,omitempty"`
}

type xmlPropstat struct {
	XMLName xml.Name  `xml:"D:propstat"`
	Prop    xmlProp   `xml:"D:prop"`
	Status  string    `xml:"D:status"`
}

type xmlProp struct {
	XMLName xml.Name  `xml:"D:prop"`
	Any     []anyElem `xml:",any"`
}

type xmlMultistatus struct {
	XMLName  xml.Name      `xml:"D:multistatus"`
	XMLNS    string        `xml:"xmlns:D,attr"`
	Response []xmlResponse `xml:"D:response"`
}

// Bytes renders the accumulated responses as a complete XML document,
// including the xml.Header prologue.
func (w *MultistatusWriter) Bytes() ([]byte, error) {
	doc := xmlMultistatus{XMLNS: davNamespace}
	for _, r := range w.responses {
		xr := xmlResponse{Href: escapeHref(r.Href)}
		if len(r.Propstats) == 0 {
			xr.Status = statusLine(r.Status)
		} else {
			for _, ps := range r.Propstats {
				xr.Propstats = append(xr.Propstats, xmlPropstat{
					Prop:   xmlProp{Any: ps.Properties},
					Status: statusLine(ps.Status),
				})
			}
		}
		doc.Response = append(doc.Response, xr)
	}
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), b...), nil
}

func escapeHref(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, StatusText(code))
}
