// Package report renders the optical inventory and its spectrum occupancy
// as an Excel workbook.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/signalsfoundry/flexgrid-rsa/model"
	"github.com/signalsfoundry/flexgrid-rsa/spectrum"
)

// Sheet names.
const (
	SheetDevices   = "Devices"
	SheetEndpoints = "Endpoints"
	SheetLinks     = "Links"
)

// ContentType is the MIME type of the rendered workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var (
	deviceHeader   = []any{"ID", "Name", "Type", "Vendor", "Model", "Endpoints"}
	endpointHeader = []any{"Device", "Endpoint", "ID", "OTN", "Min Hz", "Max Hz", "Flex Slots", "Free Slots", "Free Ranges", "In Use", "Version", "Bitmap"}
	linkHeader     = []any{"Name", "ID", "Src Device", "Src Port", "Dst Device", "Dst Port", "OTN", "Status", "Usable"}
)

// Build renders snap into a new workbook. The caller closes it.
func Build(snap *model.Snapshot) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetDevices); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetEndpoints, SheetLinks} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &sheetWriter{f: f, bold: bold}
	w.header(SheetDevices, deviceHeader)
	for _, d := range snap.Devices {
		w.row(SheetDevices, []any{d.ID, d.Name, string(d.Type), d.Vendor, d.Model, len(snap.EndpointsByDevice(d.ID))})
	}

	w.header(SheetEndpoints, endpointHeader)
	for _, d := range snap.Devices {
		for _, ep := range snap.EndpointsByDevice(d.ID) {
			w.row(SheetEndpoints, endpointRow(d.Name, ep))
		}
	}

	w.header(SheetLinks, linkHeader)
	for i := range snap.Links {
		l := &snap.Links[i]
		otn, status, ok := snap.LinkStatus(l)
		if !ok {
			otn, status = model.OTNError, model.LinkOTNMismatch
		}
		w.row(SheetLinks, []any{
			l.Name, l.ID,
			deviceName(snap, l.SrcDeviceID), portName(snap, l.SrcEndpointID),
			deviceName(snap, l.DstDeviceID), portName(snap, l.DstEndpointID),
			string(otn), string(status), model.Usable(otn, status),
		})
	}
	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// Write renders snap and writes the workbook to out.
func Write(out io.Writer, snap *model.Snapshot) error {
	f, err := Build(snap)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func endpointRow(device string, ep *model.Endpoint) []any {
	row := []any{device, ep.Name, ep.ID, string(ep.OTNType), "", "", ep.FlexSlots, ep.FreeSlots(), "", ep.InUse, ep.Version, ""}
	if ep.HasSpectrum() {
		row[4] = *ep.MinFrequencyHz
		row[5] = *ep.MaxFrequencyHz
		row[8] = FreeRanges(ep.NativeBitmap())
		row[11] = ep.Bitmap.String()
	}
	return row
}

// FreeRanges lists the runs of free slots in b as "lo-hi" slot indexes,
// lowest first.
func FreeRanges(b spectrum.Bitmap) string {
	var parts []string
	for i := 0; i < b.Width(); {
		if !b.Test(i) {
			i++
			continue
		}
		j := i
		for j+1 < b.Width() && b.Test(j+1) {
			j++
		}
		if i == j {
			parts = append(parts, strconv.Itoa(i))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", i, j))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func deviceName(snap *model.Snapshot, id string) string {
	if d, ok := snap.Device(id); ok {
		return d.Name
	}
	return id
}

func portName(snap *model.Snapshot, id string) string {
	if ep, ok := snap.Endpoint(id); ok {
		return ep.Name
	}
	return id
}

// sheetWriter appends rows and keeps the first error.
type sheetWriter struct {
	f    *excelize.File
	bold int
	rows map[string]int
	err  error
}

func (w *sheetWriter) header(sheet string, cols []any) {
	w.row(sheet, cols)
	if w.err != nil {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(cols), 1)
	if err != nil {
		w.err = err
		return
	}
	if err := w.f.SetCellStyle(sheet, "A1", last, w.bold); err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func (w *sheetWriter) row(sheet string, cols []any) {
	if w.err != nil {
		return
	}
	if w.rows == nil {
		w.rows = make(map[string]int)
	}
	w.rows[sheet]++
	cell, err := excelize.CoordinatesToCellName(1, w.rows[sheet])
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &cols)
}
