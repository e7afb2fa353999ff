package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sznuper/smbdoctor/internal/report"
)

const smbclientListing = `Disk|Data|Team files
IPC|IPC$|IPC Service (Samba 4.19)
Disk|ADMIN$|Remote Admin
Printer|HP-4th|
Server|NAS01|Samba 4.19
Workgroup|WORKGROUP|NAS01
`

const netViewListing = "Shared resources at \\\\10.0.0.5\r\n\r\nNAS01\r\n\r\nShare name  Type  Used as  Comment\r\n\r\n-------------------------------------------------------------------------------\r\nData        Disk           Team files\r\nMy Docs     Disk\r\nHP-4th      Print          Fourth floor\r\nThe command completed successfully.\r\n"

const smbutilListing = `Share                                           Type    Comments
-------------------------------
Data                                            Disk    Team files
IPC$                                            Pipe    IPC Service (Samba 4.19)
Media                                           Disk    

3 shares listed
`

func TestShares_Smbclient(t *testing.T) {
	got, err := Shares(SmbclientGrep, smbclientListing)
	require.NoError(t, err)
	assert.Equal(t, []report.ShareFact{
		{Name: "Data", Type: report.ShareDisk, Comment: "Team files"},
		{Name: "IPC$", Type: report.ShareIPC, Comment: "IPC Service (Samba 4.19)"},
		{Name: "ADMIN$", Type: report.ShareSpecial, Comment: "Remote Admin"},
		{Name: "HP-4th", Type: report.SharePrinter},
	}, got)
}

func TestShares_NetView(t *testing.T) {
	got, err := Shares(NetView, netViewListing)
	require.NoError(t, err)
	assert.Equal(t, []report.ShareFact{
		{Name: "Data", Type: report.ShareDisk, Comment: "Team files"},
		{Name: "My Docs", Type: report.ShareDisk},
		{Name: "HP-4th", Type: report.SharePrinter, Comment: "Fourth floor"},
	}, got)
}

func TestShares_SmbutilView(t *testing.T) {
	got, err := Shares(SmbutilView, smbutilListing)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Data", got[0].Name)
	assert.Equal(t, report.ShareIPC, got[1].Type)
	assert.Equal(t, report.ShareFact{Name: "Media", Type: report.ShareDisk}, got[2])
}

func TestShares_UnknownFormat(t *testing.T) {
	_, err := Shares("gopher", "")
	assert.Error(t, err)
}

func TestDiskShares(t *testing.T) {
	shares := []report.ShareFact{
		{Name: "Data", Type: report.ShareDisk},
		{Name: "IPC$", Type: report.ShareSpecial},
		{Name: "HP", Type: report.SharePrinter},
	}
	assert.Equal(t, []report.ShareFact{{Name: "Data", Type: report.ShareDisk}}, DiskShares(shares))
	assert.Empty(t, DiskShares(nil))
}
