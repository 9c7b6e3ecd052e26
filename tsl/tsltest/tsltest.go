// Package tsltest builds trusted list documents and certificates for tests.
package tsltest

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

// Namespace is the ETSI TS 119 612 v2 namespace.
const Namespace = "http://uri.etsi.org/02231/v2#"

const (
	TSLTypeLOTL    = "http://uri.etsi.org/TrstSvc/TrustedList/TSLType/EUlistofthelists"
	TSLTypeGeneric = "http://uri.etsi.org/TrstSvc/TrustedList/TSLType/EUgeneric"
	MimeTypeTSL    = "application/vnd.etsi.tsl+xml"
	MimeTypePDF    = "application/pdf"
)

var serial atomic.Int64

// NewCertificate returns a self-signed RSA certificate and its key.
func NewCertificate(t testing.TB, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert, key
}

// Pointer describes an OtherTSLPointer.
type Pointer struct {
	Location     string
	Territory    string
	MimeType     string
	TSLType      string
	Certificates []*x509.Certificate
}

// Service describes a TSP service. History certificates are written into a
// ServiceHistoryInstance.
type Service struct {
	TSPName      string
	Name         string
	Type         string
	Status       string
	Certificates []*x509.Certificate
	History      []*x509.Certificate

	// RawCertificates are written verbatim as X509Certificate values.
	RawCertificates []string
}

// List describes a trusted list document.
type List struct {
	ID                    string
	TSLType               string
	Territory             string
	Sequence              int
	OperatorName          string
	SchemeInformationURIs []string
	Pointers              []Pointer
	Services              []Service
	IssueDate             time.Time
	NextUpdate            time.Time
}

// LOTLPointer returns a pointer to a list of trusted lists at location.
func LOTLPointer(location string, certs ...*x509.Certificate) Pointer {
	return Pointer{
		Location:     location,
		Territory:    "EU",
		MimeType:     MimeTypeTSL,
		TSLType:      TSLTypeLOTL,
		Certificates: certs,
	}
}

// TLPointer returns a pointer to a member state trusted list at location.
func TLPointer(location, territory string, certs ...*x509.Certificate) Pointer {
	return Pointer{
		Location:     location,
		Territory:    territory,
		MimeType:     MimeTypeTSL,
		TSLType:      TSLTypeGeneric,
		Certificates: certs,
	}
}

// Bytes renders the list as XML.
func (l List) Bytes() []byte {
	id := l.ID
	if id == "" {
		id = "TSL"
	}
	tslType := l.TSLType
	if tslType == "" {
		tslType = TSLTypeGeneric
	}
	issue := l.IssueDate
	if issue.IsZero() {
		issue = time.Now().Add(-24 * time.Hour)
	}
	next := l.NextUpdate
	if next.IsZero() {
		next = time.Now().Add(180 * 24 * time.Hour)
	}
	seq := l.Sequence
	if seq == 0 {
		seq = 1
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<TrustServiceStatusList xmlns="%s" Id="%s" TSLTag="http://uri.etsi.org/19612/TSLTag">`, Namespace, esc(id))
	b.WriteString(`<SchemeInformation>`)
	b.WriteString(`<TSLVersionIdentifier>5</TSLVersionIdentifier>`)
	fmt.Fprintf(&b, `<TSLSequenceNumber>%d</TSLSequenceNumber>`, seq)
	fmt.Fprintf(&b, `<TSLType>%s</TSLType>`, esc(tslType))
	if l.OperatorName != "" {
		fmt.Fprintf(&b, `<SchemeOperatorName><Name xml:lang="en">%s</Name></SchemeOperatorName>`, esc(l.OperatorName))
	}
	if len(l.SchemeInformationURIs) > 0 {
		b.WriteString(`<SchemeInformationURI>`)
		for _, uri := range l.SchemeInformationURIs {
			fmt.Fprintf(&b, `<URI xml:lang="en">%s</URI>`, esc(uri))
		}
		b.WriteString(`</SchemeInformationURI>`)
	}
	if l.Territory != "" {
		fmt.Fprintf(&b, `<SchemeTerritory>%s</SchemeTerritory>`, esc(l.Territory))
	}
	if len(l.Pointers) > 0 {
		b.WriteString(`<PointersToOtherTSL>`)
		for _, p := range l.Pointers {
			writePointer(&b, p)
		}
		b.WriteString(`</PointersToOtherTSL>`)
	}
	fmt.Fprintf(&b, `<ListIssueDateTime>%s</ListIssueDateTime>`, issue.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, `<NextUpdate><dateTime>%s</dateTime></NextUpdate>`, next.UTC().Format(time.RFC3339))
	b.WriteString(`</SchemeInformation>`)

	if len(l.Services) > 0 {
		b.WriteString(`<TrustServiceProviderList>`)
		for _, s := range l.Services {
			writeService(&b, s)
		}
		b.WriteString(`</TrustServiceProviderList>`)
	}
	b.WriteString(`</TrustServiceStatusList>`)
	return b.Bytes()
}

func writePointer(b *bytes.Buffer, p Pointer) {
	b.WriteString(`<OtherTSLPointer>`)
	if len(p.Certificates) > 0 {
		b.WriteString(`<ServiceDigitalIdentities><ServiceDigitalIdentity>`)
		for _, cert := range p.Certificates {
			writeDigitalID(b, base64.StdEncoding.EncodeToString(cert.Raw))
		}
		b.WriteString(`</ServiceDigitalIdentity></ServiceDigitalIdentities>`)
	}
	fmt.Fprintf(b, `<TSLLocation>%s</TSLLocation>`, esc(p.Location))
	b.WriteString(`<AdditionalInformation>`)
	if p.TSLType != "" {
		fmt.Fprintf(b, `<OtherInformation><TSLType>%s</TSLType></OtherInformation>`, esc(p.TSLType))
	}
	if p.Territory != "" {
		fmt.Fprintf(b, `<OtherInformation><SchemeTerritory>%s</SchemeTerritory></OtherInformation>`, esc(p.Territory))
	}
	if p.MimeType != "" {
		fmt.Fprintf(b, `<OtherInformation><MimeType xmlns="http://uri.etsi.org/02231/v2/additionaltypes#">%s</MimeType></OtherInformation>`, esc(p.MimeType))
	}
	b.WriteString(`</AdditionalInformation>`)
	b.WriteString(`</OtherTSLPointer>`)
}

func writeService(b *bytes.Buffer, s Service) {
	b.WriteString(`<TrustServiceProvider>`)
	fmt.Fprintf(b, `<TSPInformation><TSPName><Name xml:lang="en">%s</Name></TSPName></TSPInformation>`, esc(s.TSPName))
	b.WriteString(`<TSPServices><TSPService>`)

	var current []string
	for _, cert := range s.Certificates {
		current = append(current, base64.StdEncoding.EncodeToString(cert.Raw))
	}
	current = append(current, s.RawCertificates...)
	writeServiceInformation(b, "ServiceInformation", s, current)

	if len(s.History) > 0 {
		var history []string
		for _, cert := range s.History {
			history = append(history, base64.StdEncoding.EncodeToString(cert.Raw))
		}
		b.WriteString(`<ServiceHistory>`)
		writeServiceInformation(b, "ServiceHistoryInstance", s, history)
		b.WriteString(`</ServiceHistory>`)
	}

	b.WriteString(`</TSPService></TSPServices>`)
	b.WriteString(`</TrustServiceProvider>`)
}

func writeServiceInformation(b *bytes.Buffer, element string, s Service, certs []string) {
	serviceType := s.Type
	if serviceType == "" {
		serviceType = "http://uri.etsi.org/TrstSvc/Svctype/CA/QC"
	}
	status := s.Status
	if status == "" {
		status = "http://uri.etsi.org/TrstSvc/TrustedList/Svcstatus/granted"
	}

	fmt.Fprintf(b, `<%s>`, element)
	fmt.Fprintf(b, `<ServiceTypeIdentifier>%s</ServiceTypeIdentifier>`, esc(serviceType))
	fmt.Fprintf(b, `<ServiceName><Name xml:lang="en">%s</Name></ServiceName>`, esc(s.Name))
	b.WriteString(`<ServiceDigitalIdentity>`)
	for _, cert := range certs {
		writeDigitalID(b, cert)
	}
	b.WriteString(`</ServiceDigitalIdentity>`)
	fmt.Fprintf(b, `<ServiceStatus>%s</ServiceStatus>`, esc(status))
	fmt.Fprintf(b, `<StatusStartingTime>%s</StatusStartingTime>`, time.Now().Add(-48*time.Hour).UTC().Format(time.RFC3339))
	fmt.Fprintf(b, `</%s>`, element)
}

func writeDigitalID(b *bytes.Buffer, value string) {
	fmt.Fprintf(b, `<DigitalId><X509Certificate>%s</X509Certificate></DigitalId>`, esc(value))
}

func esc(s string) string {
	var b bytes.Buffer
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
