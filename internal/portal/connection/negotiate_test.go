package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

func TestNegotiateProtocol(t *testing.T) {
	dual := &config.ProfileConfig{
		ProfileID:      "dual",
		Protocols:      []string{config.ProtoOpenVPN, config.ProtoWireGuard},
		PreferredProto: config.ProtoWireGuard,
	}

	tests := []struct {
		name     string
		profile  *config.ProfileConfig
		accepted []string
		want     string
		wantErr  bool
	}{
		{
			name:     "no accepted list falls back to profile preference",
			profile:  dual,
			accepted: nil,
			want:     config.ProtoWireGuard,
		},
		{
			name:     "preferred wins when accepted",
			profile:  dual,
			accepted: []string{config.ProtoOpenVPN, config.ProtoWireGuard},
			want:     config.ProtoWireGuard,
		},
		{
			name:     "caller restriction overrides preference",
			profile:  dual,
			accepted: []string{config.ProtoOpenVPN},
			want:     config.ProtoOpenVPN,
		},
		{
			name:     "case and whitespace normalized",
			profile:  dual,
			accepted: []string{" OpenVPN "},
			want:     config.ProtoOpenVPN,
		},
		{
			name: "caller order decides without preference",
			profile: &config.ProfileConfig{
				ProfileID: "noprefs",
				Protocols: []string{config.ProtoOpenVPN, config.ProtoWireGuard},
			},
			accepted: []string{config.ProtoWireGuard, config.ProtoOpenVPN},
			want:     config.ProtoWireGuard,
		},
		{
			name: "no overlap fails",
			profile: &config.ProfileConfig{
				ProfileID: "ovpn-only",
				Protocols: []string{config.ProtoOpenVPN},
			},
			accepted: []string{config.ProtoWireGuard},
			wantErr:  true,
		},
		{
			name:     "unknown protocols ignored",
			profile:  dual,
			accepted: []string{"ikev2", config.ProtoOpenVPN},
			want:     config.ProtoOpenVPN,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := negotiateProtocol(tt.profile, tt.accepted)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, errors.ErrCodeProtocolNegotiation, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
