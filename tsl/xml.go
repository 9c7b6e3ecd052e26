package tsl

import "encoding/xml"

// ETSI TS 119 612 XML structures. Only the parts needed to locate lists,
// their signers and their service certificates are mapped; element names are
// matched regardless of namespace prefix.

// trustServiceStatusList is the root element of a trusted list.
type trustServiceStatusList struct {
	XMLName           xml.Name               `xml:"TrustServiceStatusList"`
	ID                string                 `xml:"Id,attr"`
	SchemeInformation *schemeInformation     `xml:"SchemeInformation"`
	TSPList           *trustServiceProviders `xml:"TrustServiceProviderList"`
}

// schemeInformation contains scheme-level information.
type schemeInformation struct {
	TSLVersionIdentifier int                 `xml:"TSLVersionIdentifier"`
	TSLSequenceNumber    int                 `xml:"TSLSequenceNumber"`
	TSLType              string              `xml:"TSLType"`
	SchemeOperatorName   *internationalNames `xml:"SchemeOperatorName"`
	SchemeInformationURI *nonEmptyURIList    `xml:"SchemeInformationURI"`
	SchemeTerritory      string              `xml:"SchemeTerritory"`
	PointersToOtherTSL   *otherTSLPointers   `xml:"PointersToOtherTSL"`
	ListIssueDateTime    string              `xml:"ListIssueDateTime"`
	NextUpdate           *nextUpdate         `xml:"NextUpdate"`
}

type internationalNames struct {
	Name []multiLangString `xml:"Name"`
}

type multiLangString struct {
	Lang  string `xml:"lang,attr"`
	Value string `xml:",chardata"`
}

type nonEmptyURIList struct {
	URI []multiLangString `xml:"URI"`
}

type nextUpdate struct {
	DateTime string `xml:"dateTime"`
}

type otherTSLPointers struct {
	OtherTSLPointer []otherTSLPointer `xml:"OtherTSLPointer"`
}

type otherTSLPointer struct {
	ServiceDigitalIdentities *serviceDigitalIdentities `xml:"ServiceDigitalIdentities"`
	TSLLocation              string                    `xml:"TSLLocation"`
	AdditionalInformation    *additionalInformation    `xml:"AdditionalInformation"`
}

type serviceDigitalIdentities struct {
	ServiceDigitalIdentity []serviceDigitalIdentity `xml:"ServiceDigitalIdentity"`
}

type serviceDigitalIdentity struct {
	DigitalID []digitalIdentity `xml:"DigitalId"`
}

type digitalIdentity struct {
	X509Certificate string `xml:"X509Certificate"`
	X509SubjectName string `xml:"X509SubjectName"`
	X509SKI         string `xml:"X509SKI"`
}

type additionalInformation struct {
	OtherInformation []otherInformation `xml:"OtherInformation"`
}

// otherInformation holds one of the mixed-content children of a pointer's
// additional information.
type otherInformation struct {
	TSLType                  string              `xml:"TSLType"`
	SchemeOperatorName       *internationalNames `xml:"SchemeOperatorName"`
	SchemeTypeCommunityRules *nonEmptyURIList    `xml:"SchemeTypeCommunityRules"`
	SchemeTerritory          string              `xml:"SchemeTerritory"`
	MimeType                 string              `xml:"MimeType"`
}

type trustServiceProviders struct {
	TSP []trustServiceProvider `xml:"TrustServiceProvider"`
}

type trustServiceProvider struct {
	TSPInformation *tspInformation `xml:"TSPInformation"`
	TSPServices    *tspServices    `xml:"TSPServices"`
}

type tspInformation struct {
	TSPName *internationalNames `xml:"TSPName"`
}

type tspServices struct {
	TSPService []tspService `xml:"TSPService"`
}

type tspService struct {
	ServiceInformation *serviceInformation `xml:"ServiceInformation"`
	ServiceHistory     *serviceHistory     `xml:"ServiceHistory"`
}

type serviceInformation struct {
	ServiceTypeIdentifier  string                  `xml:"ServiceTypeIdentifier"`
	ServiceName            *internationalNames     `xml:"ServiceName"`
	ServiceDigitalIdentity *serviceDigitalIdentity `xml:"ServiceDigitalIdentity"`
	ServiceStatus          string                  `xml:"ServiceStatus"`
	StatusStartingTime     string                  `xml:"StatusStartingTime"`
}

type serviceHistory struct {
	ServiceHistoryInstance []serviceInformation `xml:"ServiceHistoryInstance"`
}
