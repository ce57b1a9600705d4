package addrset

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/multierr"
)

var cloudflareRanges = []string{
	"173.245.48.0/20", "103.21.244.0/22", "103.22.200.0/22", "103.31.4.0/22",
	"141.101.64.0/18", "108.162.192.0/18", "190.93.240.0/20", "188.114.96.0/20",
	"197.234.240.0/22", "198.41.128.0/17", "162.158.0.0/15", "104.16.0.0/13",
	"104.24.0.0/14", "172.64.0.0/13", "131.0.72.0/22",
	"2400:cb00::/32", "2606:4700::/32", "2803:f800::/32", "2405:b500::/32",
	"2405:8100::/32", "2a06:98c0::/29", "2c0f:f248::/32",
}

type AddrsetTestSuite struct {
	suite.Suite
}

func (s *AddrsetTestSuite) TestContains() {
	testCases := []struct {
		name   string
		ranges []string
		addr   string
		want   bool
	}{
		{name: "v4 inside", ranges: []string{"10.0.0.0/24"}, addr: "10.0.0.5", want: true},
		{name: "v4 outside", ranges: []string{"10.0.0.0/24"}, addr: "10.0.1.5", want: false},
		{name: "v4 network address", ranges: []string{"10.0.0.0/24"}, addr: "10.0.0.0", want: true},
		{name: "v4 broadcast address", ranges: []string{"10.0.0.0/24"}, addr: "10.0.0.255", want: true},
		{name: "v6 inside", ranges: []string{"2400:cb00::/32"}, addr: "2400:cb00:1:2::1", want: true},
		{name: "v6 outside", ranges: []string{"2400:cb00::/32"}, addr: "2400:cb01::1", want: false},
		{name: "v4 address against v6 range", ranges: []string{"::/0"}, addr: "10.0.0.5", want: false},
		{name: "v6 address against v4 range", ranges: []string{"0.0.0.0/0"}, addr: "::1", want: false},
		{name: "v4-mapped v6 against v4 range", ranges: []string{"10.0.0.0/24"}, addr: "::ffff:10.0.0.5", want: false},
		{name: "zone is ignored", ranges: []string{"fe80::/10"}, addr: "fe80::1%eth0", want: true},
		{name: "host bits masked", ranges: []string{"10.0.0.77/24"}, addr: "10.0.0.1", want: true},
		{name: "single host /32", ranges: []string{"93.184.216.34/32"}, addr: "93.184.216.34", want: true},
		{name: "empty set", ranges: nil, addr: "1.1.1.1", want: false},
	}
	for _, tc := range testCases {
		s.Run(tc.name, func() {
			set := MustLoad(tc.ranges...)
			addr := netip.MustParseAddr(tc.addr)
			s.Equal(tc.want, set.Contains(addr))
			s.Equal(tc.want, set.ContainsLinear(addr))
		})
	}
}

func (s *AddrsetTestSuite) TestInvalidAddrIsNotContained() {
	set := MustLoad("0.0.0.0/0", "::/0")
	s.False(set.Contains(netip.Addr{}))
}

func (s *AddrsetTestSuite) TestLoadSkipsMalformedLines() {
	lines := []string{
		"# provider ranges",
		"",
		"104.16.0.0/13",
		"104.24.0.1",
		"not-a-cidr/8",
		"  2606:4700::/32  ",
		"10.0.0.0/33",
	}
	set, err := Load(lines)
	s.Require().NotNil(set)
	s.Require().Error(err)
	s.ErrorIs(err, ErrMalformedRange)

	errs := multierr.Errors(err)
	s.Len(errs, 3)
	var le *LineError
	s.Require().True(errors.As(errs[0], &le))
	s.Equal(4, le.Line)
	s.Equal("104.24.0.1", le.Text)

	s.Equal(2, set.Len())
	s.True(set.Contains(netip.MustParseAddr("104.16.1.1")))
	s.True(set.Contains(netip.MustParseAddr("2606:4700::6810:1")))
	s.False(set.Contains(netip.MustParseAddr("104.24.0.1")))
}

func (s *AddrsetTestSuite) TestPrefixesReturnsCopy() {
	set := MustLoad("10.0.0.9/24")
	ps := set.Prefixes()
	s.Equal([]netip.Prefix{netip.MustParsePrefix("10.0.0.0/24")}, ps)
	ps[0] = netip.MustParsePrefix("0.0.0.0/0")
	s.False(set.Contains(netip.MustParseAddr("1.1.1.1")))
}

func (s *AddrsetTestSuite) TestFastPathAgreesWithLinearScan() {
	set := MustLoad(cloudflareRanges...)
	probes := []string{
		"104.16.132.229", "104.31.255.255", "104.32.0.0", "172.67.1.1", "1.1.1.1",
		"198.41.255.255", "198.42.0.0", "131.0.75.255", "131.0.76.0", "8.8.8.8",
		"2606:4700:3033::6815:1", "2a06:98c7:ffff::1", "2a06:98c8::1", "2001:db8::1",
		"2c0f:f248:ffff:ffff::", "::ffff:104.16.0.1",
	}
	for _, p := range probes {
		addr := netip.MustParseAddr(p)
		s.Equal(set.ContainsLinear(addr), set.Contains(addr), p)
	}
}

func (s *AddrsetTestSuite) TestPrefix48() {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2606:4700:3033::6815:1", want: "2606:4700:3033::/48"},
		{in: "2606:4700:10::/44", want: "2606:4700:10::/48"},
		{in: "2606:4700::/32", want: "2606:4700::/48"},
		{in: "2a06:98c1:3120:8000::/56", want: "2a06:98c1:3120::/48"},
		{in: " 2400:cb00:2049:1::a29f:1804 ", want: "2400:cb00:2049::/48"},
		{in: "104.16.0.1", wantErr: true},
		{in: "::ffff:104.16.0.1", wantErr: true},
		{in: "garbage", wantErr: true},
	}
	for _, tc := range testCases {
		s.Run(tc.in, func() {
			got, err := Prefix48(tc.in)
			if tc.wantErr {
				s.Error(err)
				return
			}
			s.Require().NoError(err)
			s.Equal(tc.want, got.String())
		})
	}
}

func (s *AddrsetTestSuite) TestCollapse48() {
	got, err := Collapse48([]string{
		"2606:4700:3033::6815:1",
		"2400:cb00:2049:1::a29f:1804",
		"2606:4700:3033::ac43:1",
		"",
		"1.2.3.4",
	})
	s.Require().Error(err)
	s.Len(multierr.Errors(err), 1)
	s.Equal([]netip.Prefix{
		netip.MustParsePrefix("2400:cb00:2049::/48"),
		netip.MustParsePrefix("2606:4700:3033::/48"),
	}, got)
}

func TestAddrsetSuite(t *testing.T) {
	suite.Run(t, new(AddrsetTestSuite))
}
