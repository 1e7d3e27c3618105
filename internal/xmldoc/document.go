// Package xmldoc renders dialplan rules as FreeSWITCH XML documents and
// parses them back.
package xmldoc

import "encoding/xml"

// DocumentType is the type attribute FreeSWITCH expects on the root element.
const DocumentType = "freeswitch/xml"

// Document is the root <document> element.
type Document struct {
	XMLName  xml.Name  `xml:"document"`
	Type     string    `xml:"type,attr"`
	Sections []Section `xml:"section"`
}

// Section is a <section>; dialplan sections carry contexts and result
// sections carry a status.
type Section struct {
	Name        string    `xml:"name,attr"`
	Description string    `xml:"description,attr,omitempty"`
	Contexts    []Context `xml:"context"`
	Result      *Result   `xml:"result,omitempty"`
}

// Result is the body of a result section.
type Result struct {
	Status string `xml:"status,attr"`
}

// Context is a named group of extensions.
type Context struct {
	Name       string      `xml:"name,attr"`
	Extensions []Extension `xml:"extension"`
}

// Extension is one rendered dialplan rule.
type Extension struct {
	XMLName    xml.Name    `xml:"extension"`
	Name       string      `xml:"name,attr"`
	Continue   string      `xml:"continue,attr,omitempty"`
	UUID       string      `xml:"uuid,attr,omitempty"`
	Conditions []Condition `xml:"condition"`
}

// Condition tests a channel field against a regular expression.
type Condition struct {
	Field      string   `xml:"field,attr"`
	Expression string   `xml:"expression,attr"`
	Actions    []Action `xml:"action"`
}

// Action is a single application call.
type Action struct {
	Application string `xml:"application,attr"`
	Data        string `xml:"data,attr,omitempty"`
}
