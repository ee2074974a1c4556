package sim

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pkg/errors"
)

const (
	minFrameSize = 60
	maxFrameSize = 9216

	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
)

// BuildUDPFrame builds an Ethernet/IPv4/UDP frame of size bytes (without
// FCS), the same default frame TRex generates for a bare stream.
func BuildUDPFrame(size int) ([]byte, error) {
	if size < minFrameSize || size > maxFrameSize {
		return nil, errors.Errorf("invalid frame size %d, must be in [%d, %d]", size, minFrameSize, maxFrameSize)
	}

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x01, 0x00, 0x00},
		DstMAC:       net.HardwareAddr{0x00, 0x00, 0x00, 0x02, 0x00, 0x00},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		SrcIP:    net.IPv4(16, 0, 0, 1),
		DstIP:    net.IPv4(48, 0, 0, 1),
		Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(1025),
		DstPort: layers.UDPPort(12),
	}
	if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
		return nil, errors.Wrap(err, "failed to set network layer for checksum")
	}

	payload := make([]byte, size-ethHeaderLen-ipv4HeaderLen-udpHeaderLen)
	for i := range payload {
		payload[i] = 'x'
	}

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf,
		gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip4, udp, gopacket.Payload(payload))
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize frame")
	}
	return buf.Bytes(), nil
}

// ValidateFrame decodes raw as an Ethernet frame and rejects frames that do
// not decode cleanly.
func ValidateFrame(raw []byte) error {
	if len(raw) < ethHeaderLen || len(raw) > maxFrameSize {
		return errors.Errorf("invalid frame length %d", len(raw))
	}
	pkt := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.Default)
	if el := pkt.ErrorLayer(); el != nil {
		return errors.Wrap(el.Error(), "failed to decode frame")
	}
	if pkt.Layer(layers.LayerTypeEthernet) == nil {
		return errors.New("frame has no ethernet header")
	}
	return nil
}
