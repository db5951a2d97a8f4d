// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/LeeDigitalWorks/vospace/pkg/types"
	"github.com/LeeDigitalWorks/vospace/pkg/verrors"
)

// XML namespaces used in job documents.
const (
	NamespaceUWS   = "http://www.ivoa.net/xml/UWS/v1.0"
	NamespaceVOS   = "http://www.ivoa.net/xml/VOSpace/v2.0"
	NamespaceXLink = "http://www.w3.org/1999/xlink"
	NamespaceXSI   = "http://www.w3.org/2001/XMLSchema-instance"
)

// maxDocumentSize bounds a submitted job document.
const maxDocumentSize = 1 << 20

// timeLayout renders job timestamps, always in UTC.
const timeLayout = "2006-01-02 15:04:05 MST"

// Request is a parsed transfer request document.
type Request struct {
	Target    string
	Direction string
	Views     []string
	KeepBytes bool
	Protocols []types.Protocol
}

// WritesToStore reports whether the requested job would create or change
// nodes: pushes into the store, server-side pulls and node-to-node jobs.
func (r *Request) WritesToStore() bool {
	dir, err := types.ParseDirection(r.Direction)
	if err != nil {
		return true
	}
	return dir != types.DirectionPullFromStore && dir != types.DirectionPushFromStore
}

type transferIn struct {
	Target    string       `xml:"target"`
	Direction string       `xml:"direction"`
	Views     []viewIn     `xml:"view"`
	KeepBytes string       `xml:"keepBytes"`
	Protocols []protocolIn `xml:"protocol"`

	// set when the document is a whole uws:job
	Nested *transferIn `xml:"jobInfo>transfer"`
}

type viewIn struct {
	URI   string `xml:"uri,attr"`
	Value string `xml:",chardata"`
}

type protocolIn struct {
	URI      string `xml:"uri,attr"`
	Endpoint string `xml:"protocolEndpoint"`
	Alt      string `xml:"endpoint"`
}

// ParseRequest reads a transfer document. The root may be a vos:transfer
// or a uws:job wrapping one in jobInfo; namespaces are not checked.
func ParseRequest(r io.Reader) (*Request, error) {
	var doc transferIn
	dec := xml.NewDecoder(io.LimitReader(r, maxDocumentSize))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, verrors.InvalidArgument("empty job document")
		}
		return nil, &verrors.Error{Code: verrors.CodeInvalidArgument, Message: "malformed job document", Err: err}
	}
	if doc.Nested != nil {
		doc = *doc.Nested
	}

	req := &Request{
		Target:    strings.TrimSpace(doc.Target),
		Direction: strings.TrimSpace(doc.Direction),
		KeepBytes: strings.EqualFold(strings.TrimSpace(doc.KeepBytes), "true"),
	}
	for _, v := range doc.Views {
		view := strings.TrimSpace(v.URI)
		if view == "" {
			view = strings.TrimSpace(v.Value)
		}
		if view != "" {
			req.Views = append(req.Views, view)
		}
	}
	for _, p := range doc.Protocols {
		endpoint := strings.TrimSpace(p.Endpoint)
		if endpoint == "" {
			endpoint = strings.TrimSpace(p.Alt)
		}
		req.Protocols = append(req.Protocols, types.Protocol{URI: strings.TrimSpace(p.URI), Endpoint: endpoint})
	}
	return req, nil
}

type nillable struct {
	Nil   string `xml:"xsi:nil,attr,omitempty"`
	Value string `xml:",chardata"`
}

func nilOr(v string) nillable {
	if v == "" {
		return nillable{Nil: "true"}
	}
	return nillable{Value: v}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

type protocolOut struct {
	URI      string `xml:"uri,attr"`
	Endpoint string `xml:"vos:protocolEndpoint,omitempty"`
}

type transferOut struct {
	Direction string        `xml:"vos:direction"`
	Protocols []protocolOut `xml:"vos:protocol"`
	Target    string        `xml:"vos:target"`
	Views     []string      `xml:"vos:view"`
}

type resultOut struct {
	ID   string `xml:"id,attr"`
	Href string `xml:"xlink:href,attr"`
}

type jobOut struct {
	XMLName      xml.Name    `xml:"uws:job"`
	NSUWS        string      `xml:"xmlns:uws,attr"`
	NSVOS        string      `xml:"xmlns:vos,attr"`
	NSXLink      string      `xml:"xmlns:xlink,attr"`
	NSXSI        string      `xml:"xmlns:xsi,attr"`
	JobID        string      `xml:"uws:jobId"`
	OwnerID      nillable    `xml:"uws:ownerId"`
	Phase        string      `xml:"uws:phase"`
	StartTime    nillable    `xml:"uws:startTime"`
	EndTime      nillable    `xml:"uws:endTime"`
	Duration     int         `xml:"uws:executionDuration"`
	Destruction  nillable    `xml:"uws:destruction"`
	ErrorSummary string      `xml:"uws:errorSummary,omitempty"`
	Transfer     transferOut `xml:"uws:jobInfo>vos:transfer"`
	Results      []resultOut `xml:"uws:results>result"`
}

// directionText is the document form of the job's direction: the wire
// name, or the destination identifier of a LOCAL job.
func directionText(job *types.TransferJob) string {
	if job.Direction == types.DirectionLocal {
		return job.LocalTarget.String()
	}
	return job.Direction.WireName()
}

func detailsURL(appURL string, job *types.TransferJob) string {
	return fmt.Sprintf("%s/transfers/%s/results/details", strings.TrimRight(appURL, "/"), job.ID)
}

// WriteJob renders job as a uws:job document.
func WriteJob(w io.Writer, job *types.TransferJob, appURL string) error {
	doc := jobOut{
		NSUWS:       NamespaceUWS,
		NSVOS:       NamespaceVOS,
		NSXLink:     NamespaceXLink,
		NSXSI:       NamespaceXSI,
		JobID:       job.ID.String(),
		OwnerID:     nilOr(job.Owner),
		Phase:       string(job.State),
		StartTime:   nilOr(formatTime(job.StartTime)),
		EndTime:     nilOr(formatTime(job.EndTime)),
		Destruction: nilOr(""),
		Transfer: transferOut{
			Direction: directionText(job),
			Target:    job.Target.String(),
			Views:     job.Views,
		},
		Results: []resultOut{{ID: "transferDetails", Href: detailsURL(appURL, job)}},
	}
	if job.State == types.StateError {
		doc.ErrorSummary = job.Note
	}
	for _, p := range job.Protocols {
		doc.Transfer.Protocols = append(doc.Transfer.Protocols, protocolOut(p))
	}
	return encode(w, doc)
}

type resultsOut struct {
	XMLName xml.Name    `xml:"uws:results"`
	NSUWS   string      `xml:"xmlns:uws,attr"`
	NSXLink string      `xml:"xmlns:xlink,attr"`
	Results []resultOut `xml:"uws:result"`
}

// WriteResults renders the results list of job, a single link to its
// transfer details.
func WriteResults(w io.Writer, job *types.TransferJob, appURL string) error {
	return encode(w, resultsOut{
		NSUWS:   NamespaceUWS,
		NSXLink: NamespaceXLink,
		Results: []resultOut{{ID: "transferDetails", Href: detailsURL(appURL, job)}},
	})
}

type detailsProtocol struct {
	URI      string `xml:"uri,attr"`
	Endpoint string `xml:"endpoint,omitempty"`
}

type detailsOut struct {
	XMLName   xml.Name          `xml:"transfer"`
	Target    string            `xml:"target"`
	Direction string            `xml:"direction"`
	Views     []string          `xml:"view"`
	Protocols []detailsProtocol `xml:"protocol"`
}

// WriteDetails renders the negotiated transfer: target, direction, views
// and protocol endpoints.
func WriteDetails(w io.Writer, job *types.TransferJob) error {
	doc := detailsOut{
		Target:    job.Target.String(),
		Direction: directionText(job),
		Views:     job.Views,
	}
	for _, p := range job.Protocols {
		doc.Protocols = append(doc.Protocols, detailsProtocol(p))
	}
	return encode(w, doc)
}

func encode(w io.Writer, v any) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// QueueHeader is the first line of a transfers listing.
const QueueHeader = "id, state, direction, starttime, endtime, path"

// WriteQueue renders jobs as the plain-text transfers listing, one job
// per line with ", " between fields and empty fields for unset times.
func WriteQueue(w io.Writer, jobs []*types.TransferJob) error {
	var b strings.Builder
	b.WriteString(QueueHeader)
	b.WriteByte('\n')
	for _, j := range jobs {
		fields := []string{
			j.ID.String(),
			string(j.State),
			string(j.Direction),
			plainTime(j.StartTime),
			plainTime(j.EndTime),
			j.Target.String(),
		}
		b.WriteString(strings.Join(fields, ", "))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func plainTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateTime)
}

// PhaseText is the plain-text phase of job.
func PhaseText(job *types.TransferJob) string {
	return string(job.State)
}

// ErrorText is the plain-text error note of job.
func ErrorText(job *types.TransferJob) string {
	return job.Note
}

// ParsePhase reads a phase change request body, "PHASE=ABORT" form
// encoded or bare.
func ParsePhase(body string) (types.JobState, error) {
	body = strings.TrimSpace(body)
	if k, v, ok := strings.Cut(body, "="); ok {
		if !strings.EqualFold(strings.TrimSpace(k), "phase") {
			return "", verrors.InvalidArgument("unknown parameter %q", k)
		}
		if u, err := strconv.Unquote(v); err == nil {
			v = u
		}
		body = v
	}
	return types.ParseJobState(body)
}
