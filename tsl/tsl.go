// Package tsl parses ETSI TS 119 612 trusted lists and lists of trusted
// lists into the model used by the synchroniser.
package tsl

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Well-known identifiers from ETSI TS 119 612.
const (
	// TSLTypeEULOTL is the TSL type of the EU list of trusted lists.
	TSLTypeEULOTL = "http://uri.etsi.org/TrstSvc/TrustedList/TSLType/EUlistofthelists"

	// TSLTypeEUGeneric is the TSL type of an EU member state trusted list.
	TSLTypeEUGeneric = "http://uri.etsi.org/TrstSvc/TrustedList/TSLType/EUgeneric"

	// MimeTypeTSL is the MIME type of the XML form of a trusted list.
	MimeTypeTSL = "application/vnd.etsi.tsl+xml"
)

// PreferredLanguage is used to pick one value out of multilingual names.
var PreferredLanguage = language.English

// ErrMalformed is returned when a document is not a usable trusted list.
var ErrMalformed = errors.New("malformed trusted list")

// TrustedList is a parsed trusted list or list of trusted lists.
type TrustedList struct {
	// Location is the URL the list was fetched from.
	Location string

	// ID is the value of the root element's Id attribute.
	ID string

	TSLType           string
	Territory         string
	OperatorName      string
	SequenceNumber    int
	VersionIdentifier int

	// IssueDate is the ListIssueDateTime; zero if absent or unparsable.
	IssueDate time.Time

	// NextUpdate is zero for a closed list.
	NextUpdate time.Time

	// SchemeInformationURIs lists the scheme information URIs in document order.
	SchemeInformationURIs []string

	// Pointers are the PointersToOtherTSL entries.
	Pointers []Pointer

	// Entries are the certificates of every TSP service and service history instance.
	Entries []CertificateEntry

	// Warnings collects recoverable problems, such as undecodable certificates.
	Warnings []string
}

// Pointer references another trusted list.
type Pointer struct {
	Location     string
	Territory    string
	MimeType     string
	TSLType      string
	OperatorName string

	// Certificates may be used to verify the signature of the referenced list.
	Certificates []*x509.Certificate
}

// CertificateEntry is a certificate published for a trust service.
type CertificateEntry struct {
	Certificate *x509.Certificate
	TSPName     string
	ServiceName string
	ServiceType string
	Status      string

	// Historical is set when the certificate comes from a ServiceHistoryInstance.
	Historical bool
}

// IsLOTL reports whether the pointer references a list of trusted lists.
func (p Pointer) IsLOTL() bool {
	return isLOTLType(p.TSLType)
}

// IsXML reports whether the pointer references the machine-processable form
// of a list. Pointers without a MIME type are assumed to be XML.
func (p Pointer) IsXML() bool {
	return p.MimeType == "" || strings.Contains(strings.ToLower(p.MimeType), "xml")
}

// IsLOTL reports whether the list is a list of trusted lists.
func (tl *TrustedList) IsLOTL() bool {
	return isLOTLType(tl.TSLType)
}

// Expired reports whether the list's next update lies before now.
func (tl *TrustedList) Expired(now time.Time) bool {
	return !tl.NextUpdate.IsZero() && tl.NextUpdate.Before(now)
}

// Certificates returns the certificates of all entries in document order.
func (tl *TrustedList) Certificates() []*x509.Certificate {
	certs := make([]*x509.Certificate, 0, len(tl.Entries))
	for _, entry := range tl.Entries {
		certs = append(certs, entry.Certificate)
	}
	return certs
}

// HasSchemeInformationURI reports whether any scheme information URI
// satisfies match.
func (tl *TrustedList) HasSchemeInformationURI(match func(string) bool) bool {
	for _, uri := range tl.SchemeInformationURIs {
		if match(uri) {
			return true
		}
	}
	return false
}

// PivotURLs returns the locations of the historical versions of a list of
// trusted lists, as listed in its scheme information URIs (newest first).
// The list's own location is never a pivot.
func (tl *TrustedList) PivotURLs() []string {
	var pivots []string
	for _, uri := range tl.SchemeInformationURIs {
		if !strings.HasSuffix(strings.ToLower(uri), ".xml") {
			continue
		}
		if tl.Location != "" && uri == tl.Location {
			continue
		}
		pivots = append(pivots, uri)
	}
	return pivots
}

// LOTLPointer returns the pointer a list of trusted lists carries to itself.
// Its certificates are the ones allowed to sign the next version of the list.
// A pointer to the list's own location wins over other LOTL pointers.
func (tl *TrustedList) LOTLPointer() (Pointer, bool) {
	var found *Pointer
	for i := range tl.Pointers {
		p := &tl.Pointers[i]
		if !p.IsLOTL() || !p.IsXML() {
			continue
		}
		if tl.Location != "" && p.Location == tl.Location {
			return *p, true
		}
		if found == nil {
			found = p
		}
	}
	if found == nil {
		return Pointer{}, false
	}
	return *found, true
}

// TrustedListPointers returns the pointers to XML trusted lists, skipping
// pointers to lists of trusted lists and to human-readable forms.
func (tl *TrustedList) TrustedListPointers() []Pointer {
	var pointers []Pointer
	for _, p := range tl.Pointers {
		if p.IsLOTL() || !p.IsXML() || p.Location == "" {
			continue
		}
		pointers = append(pointers, p)
	}
	return pointers
}

// Parse parses data as a trusted list fetched from location.
func Parse(location string, data []byte) (*TrustedList, error) {
	var doc trustServiceStatusList
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.SchemeInformation == nil {
		return nil, fmt.Errorf("%w: no scheme information found", ErrMalformed)
	}

	si := doc.SchemeInformation
	tl := &TrustedList{
		Location:          location,
		ID:                doc.ID,
		TSLType:           strings.TrimSpace(si.TSLType),
		Territory:         strings.TrimSpace(si.SchemeTerritory),
		SequenceNumber:    si.TSLSequenceNumber,
		VersionIdentifier: si.TSLVersionIdentifier,
	}
	if si.SchemeOperatorName != nil {
		tl.OperatorName = pickName(si.SchemeOperatorName.Name)
	}
	if t, err := parseDateTime(si.ListIssueDateTime); err == nil {
		tl.IssueDate = t
	}
	if si.NextUpdate != nil {
		if t, err := parseDateTime(si.NextUpdate.DateTime); err == nil {
			tl.NextUpdate = t
		}
	}
	if si.SchemeInformationURI != nil {
		for _, uri := range si.SchemeInformationURI.URI {
			if v := strings.TrimSpace(uri.Value); v != "" {
				tl.SchemeInformationURIs = append(tl.SchemeInformationURIs, v)
			}
		}
	}

	if si.PointersToOtherTSL != nil {
		for _, ptr := range si.PointersToOtherTSL.OtherTSLPointer {
			tl.Pointers = append(tl.Pointers, tl.parsePointer(ptr))
		}
	}

	if doc.TSPList != nil {
		for _, tsp := range doc.TSPList.TSP {
			tl.parseProvider(tsp)
		}
	}

	return tl, nil
}

func (tl *TrustedList) parsePointer(ptr otherTSLPointer) Pointer {
	p := Pointer{Location: strings.TrimSpace(ptr.TSLLocation)}

	if ptr.AdditionalInformation != nil {
		for _, other := range ptr.AdditionalInformation.OtherInformation {
			if v := strings.TrimSpace(other.SchemeTerritory); v != "" {
				p.Territory = v
			}
			if v := strings.TrimSpace(other.MimeType); v != "" {
				p.MimeType = v
			}
			if v := strings.TrimSpace(other.TSLType); v != "" {
				p.TSLType = v
			}
			if other.SchemeOperatorName != nil {
				p.OperatorName = pickName(other.SchemeOperatorName.Name)
			}
		}
	}

	if ptr.ServiceDigitalIdentities != nil {
		for _, sdi := range ptr.ServiceDigitalIdentities.ServiceDigitalIdentity {
			certs, warnings := parseCertificates(&sdi)
			p.Certificates = append(p.Certificates, certs...)
			for _, w := range warnings {
				tl.Warnings = append(tl.Warnings, fmt.Sprintf("pointer %s: %s", p.Location, w))
			}
		}
	}

	return p
}

func (tl *TrustedList) parseProvider(tsp trustServiceProvider) {
	if tsp.TSPServices == nil {
		return
	}

	tspName := ""
	if tsp.TSPInformation != nil && tsp.TSPInformation.TSPName != nil {
		tspName = pickName(tsp.TSPInformation.TSPName.Name)
	}

	for _, service := range tsp.TSPServices.TSPService {
		if service.ServiceInformation != nil {
			tl.addService(tspName, service.ServiceInformation, false)
		}
		if service.ServiceHistory != nil {
			for i := range service.ServiceHistory.ServiceHistoryInstance {
				tl.addService(tspName, &service.ServiceHistory.ServiceHistoryInstance[i], true)
			}
		}
	}
}

func (tl *TrustedList) addService(tspName string, info *serviceInformation, historical bool) {
	serviceName := ""
	if info.ServiceName != nil {
		serviceName = pickName(info.ServiceName.Name)
	}

	certs, warnings := parseCertificates(info.ServiceDigitalIdentity)
	for _, w := range warnings {
		tl.Warnings = append(tl.Warnings, fmt.Sprintf("service %q: %s", serviceName, w))
	}

	for _, cert := range certs {
		tl.Entries = append(tl.Entries, CertificateEntry{
			Certificate: cert,
			TSPName:     tspName,
			ServiceName: serviceName,
			ServiceType: strings.TrimSpace(info.ServiceTypeIdentifier),
			Status:      strings.TrimSpace(info.ServiceStatus),
			Historical:  historical,
		})
	}
}

// parseCertificates decodes the X.509 certificates of a digital identity.
// Undecodable values are skipped and reported as warnings.
func parseCertificates(sdi *serviceDigitalIdentity) ([]*x509.Certificate, []string) {
	if sdi == nil {
		return nil, nil
	}

	var certs []*x509.Certificate
	var warnings []string
	for _, did := range sdi.DigitalID {
		if did.X509Certificate == "" {
			continue
		}
		certData, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(did.X509Certificate), ""))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid certificate encoding: %v", err))
			continue
		}
		cert, err := x509.ParseCertificate(certData)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid certificate: %v", err))
			continue
		}
		certs = append(certs, cert)
	}
	return certs, warnings
}

// pickName selects the value in PreferredLanguage, falling back to the first.
func pickName(names []multiLangString) string {
	if len(names) == 0 {
		return ""
	}

	tags := make([]language.Tag, len(names))
	for i, name := range names {
		tag, err := language.Parse(name.Lang)
		if err != nil {
			tag = language.Und
		}
		tags[i] = tag
	}

	_, index, confidence := language.NewMatcher(tags).Match(PreferredLanguage)
	if confidence == language.No {
		index = 0
	}
	return strings.TrimSpace(names[index].Value)
}

// parseDateTime parses an ISO 8601 datetime string.
func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05Z",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse datetime: %s", s)
}

func isLOTLType(tslType string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(tslType)), "listofthelists")
}
