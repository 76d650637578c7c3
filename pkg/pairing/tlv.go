package pairing

import "time"

// HAP pairing TLV8 tag constants, shared by Pair-Setup and Pair-Verify.
const (
	tlvMethod        byte = 0x00
	tlvIdentifier    byte = 0x01
	tlvSalt          byte = 0x02
	tlvPublicKey     byte = 0x03
	tlvProof         byte = 0x04
	tlvEncryptedData byte = 0x05
	tlvState         byte = 0x06
	tlvError         byte = 0x07
	tlvRetryDelay    byte = 0x08
	tlvSignature     byte = 0x0A
	tlvName          byte = 0x11
)

// HAP pairing TLV8 error-code constants (carried under tlvError).
const (
	tlvErrUnknown        byte = 0x01
	tlvErrAuthentication byte = 0x02
	tlvErrBackoff        byte = 0x03
	tlvErrMaxPeers       byte = 0x04
	tlvErrMaxTries       byte = 0x05
	tlvErrUnavailable    byte = 0x06
	tlvErrBusy           byte = 0x07
)

// OPACK envelope keys wrapping a TLV8 payload on PS_*/PV_* frames.
const (
	opackKeyPairData = "_pd"
	opackKeyPwType   = "_pwTy"
	opackKeyAuthType = "_auTy"
)

// retryDelaySeconds decodes a little-endian HAP RetryDelay TLV value.
func retryDelaySeconds(v []byte) int {
	n := 0
	for i, b := range v {
		n |= int(b) << (8 * i)
	}
	return n
}

// retryDelayDuration decodes a HAP RetryDelay TLV value as a duration.
func retryDelayDuration(v []byte) time.Duration {
	return time.Duration(retryDelaySeconds(v)) * time.Second
}
