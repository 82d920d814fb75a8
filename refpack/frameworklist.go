package refpack

import (
	"encoding/xml"
	"strings"

	"github.com/wippyai/clr-image/errors"
)

// FrameworkList is the data/FrameworkList.xml manifest of a targeting pack.
type FrameworkList struct {
	XMLName                   xml.Name `xml:"FileList"`
	TargetFrameworkIdentifier string   `xml:"TargetFrameworkIdentifier,attr,omitempty"`
	TargetFrameworkVersion    string   `xml:"TargetFrameworkVersion,attr,omitempty"`
	FrameworkName             string   `xml:"FrameworkName,attr,omitempty"`
	Name                      string   `xml:"Name,attr,omitempty"`
	Files                     []File   `xml:"File"`
}

// File is one assembly entry of a FrameworkList.
type File struct {
	Type            string `xml:"Type,attr,omitempty"`
	Path            string `xml:"Path,attr"`
	AssemblyName    string `xml:"AssemblyName,attr"`
	PublicKeyToken  string `xml:"PublicKeyToken,attr,omitempty"`
	AssemblyVersion string `xml:"AssemblyVersion,attr,omitempty"`
	FileVersion     string `xml:"FileVersion,attr,omitempty"`
}

// ParseFrameworkList decodes a FrameworkList.xml document.
func ParseFrameworkList(data []byte) (*FrameworkList, error) {
	var fl FrameworkList
	if err := xml.Unmarshal(data, &fl); err != nil {
		return nil, errors.Wrap(errors.PhaseLocate, errors.KindInvalidData, err, "FrameworkList.xml")
	}
	return &fl, nil
}

// Encode renders the list as an indented XML document.
func (fl *FrameworkList) Encode() ([]byte, error) {
	out, err := xml.MarshalIndent(fl, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLocate, errors.KindInvalidInput, err, "FrameworkList.xml")
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// Find returns the entry whose assembly name equals name, ignoring case.
func (fl *FrameworkList) Find(name string) (File, bool) {
	for _, f := range fl.Files {
		if strings.EqualFold(f.AssemblyName, name) {
			return f, true
		}
	}
	return File{}, false
}
