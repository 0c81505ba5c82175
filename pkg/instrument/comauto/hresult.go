package comauto

import "github.com/vibelab/vvbridge/pkg/instrument"

// VibrationVIEW automation HRESULTs. Failures are FACILITY_ITF errors
// (0x80040000 | code); the 0x0004xxxx values are success codes with extra
// meaning and never surface as call failures.
const (
	hrAlreadyRunning         uint32 = 0x80040200
	hrTestNotFound           uint32 = 0x80040202
	hrKeyNotFound            uint32 = 0x80040203
	hrNoSuchDirectory        uint32 = 0x80040204
	hrCantCreateFile         uint32 = 0x80040205
	hrFileExists             uint32 = 0x80040206
	hrStringConversionFailed uint32 = 0x80040208
	hrNoData                 uint32 = 0x80040209
	hrWaitingForBox          uint32 = 0x8004020b
	hrAutomationKeyMissing   uint32 = 0x8004020c
	hrUndefined              uint32 = 0x8004020d
	hrWrongNumberDims        uint32 = 0x8004020e
	hrWrongDatatype          uint32 = 0x8004020f
	hrTEDTemplateMissing     uint32 = 0x80040210
	hrRecording              uint32 = 0x80040211
	hrFailedToSave           uint32 = 0x80040212
	hrWindowsError           uint32 = 0x80040214
	hrBadParameter           uint32 = 0x80040215
	hrWrongTestMode          uint32 = 0x80040216
	hrTransientKeyMissing    uint32 = 0x80040217
	hrLengthMismatch         uint32 = 0x80040218
	hrFailedInputConfig      uint32 = 0x80040219
	hrUnexpected             uint32 = 0x8004021a
	hrMismatch               uint32 = 0x8004021b
	hrPretestCantResume      uint32 = 0x8004021c
	hrDatabaseNotAvailable   uint32 = 0x8004021d
)

// Standard COM HRESULTs that indicate the automation server is gone. Calls
// failing with one of these can never succeed on the same connection.
const (
	hrRPCDisconnected      uint32 = 0x80010108 // RPC_E_DISCONNECTED
	hrRPCServerUnavailable uint32 = 0x800706ba // RPC_S_SERVER_UNAVAILABLE
	hrRPCCallFailed        uint32 = 0x800706be // RPC_S_CALL_FAILED
	hrClassNotRegistered   uint32 = 0x80040154 // REGDB_E_CLASSNOTREG
	hrDispException        uint32 = 0x80020009 // DISP_E_EXCEPTION
	hrDispMemberNotFound   uint32 = 0x80020003 // DISP_E_MEMBERNOTFOUND
)

var hresultText = map[uint32]string{
	hrAlreadyRunning:         "test is already running",
	hrTestNotFound:           "test not found",
	hrKeyNotFound:            "key not found",
	hrNoSuchDirectory:        "no such directory",
	hrCantCreateFile:         "can't create file",
	hrFileExists:             "file exists",
	hrStringConversionFailed: "string conversion failed",
	hrNoData:                 "no data available",
	hrWaitingForBox:          "waiting for IO box to initialize",
	hrAutomationKeyMissing:   "automation interface software option is not enabled",
	hrUndefined:              "undefined error",
	hrWrongNumberDims:        "wrong number of dimensions in requested array",
	hrWrongDatatype:          "return array has improper datatype",
	hrTEDTemplateMissing:     "TEDS template file not found",
	hrRecording:              "recording is already running",
	hrFailedToSave:           "file failed to save",
	hrWindowsError:           "windows returned an error",
	hrBadParameter:           "invalid parameter value",
	hrWrongTestMode:          "wrong test mode for requested operation",
	hrTransientKeyMissing:    "transient capture software option is not enabled",
	hrLengthMismatch:         "length mismatch",
	hrFailedInputConfig:      "failed loading input configuration",
	hrUnexpected:             "unexpected error",
	hrMismatch:               "data mismatch",
	hrPretestCantResume:      "can't resume after pretest",
	hrDatabaseNotAvailable:   "database not available",
	hrRPCDisconnected:        "automation server disconnected",
	hrRPCServerUnavailable:   "automation server unavailable",
	hrRPCCallFailed:          "remote call failed",
	hrClassNotRegistered:     "automation class not registered",
	hrDispMemberNotFound:     "unknown automation operation",
}

// kindForHRESULT classifies an automation failure code into the handle
// lifecycle taxonomy. Caller mistakes map to KindInvalidArgument, dead-server
// codes to KindFatal so the pool evicts the handle, and everything else to
// KindTransient.
func kindForHRESULT(hr uint32) instrument.Kind {
	switch hr {
	case hrBadParameter, hrWrongNumberDims, hrWrongDatatype,
		hrLengthMismatch, hrStringConversionFailed,
		hrTestNotFound, hrKeyNotFound, hrNoSuchDirectory,
		hrDispMemberNotFound:
		return instrument.KindInvalidArgument
	case hrRPCDisconnected, hrRPCServerUnavailable, hrRPCCallFailed,
		hrClassNotRegistered:
		return instrument.KindFatal
	default:
		return instrument.KindTransient
	}
}

// hresultMessage returns a short description for known automation codes and
// an empty string otherwise.
func hresultMessage(hr uint32) string {
	return hresultText[hr]
}
