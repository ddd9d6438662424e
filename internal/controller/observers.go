package controller

import (
	"github.com/tphakala/twsaudio/internal/resource"
	"github.com/tphakala/twsaudio/internal/syncproto"
)

// resourceObservers fans arbiter changes out to several observers
type resourceObservers []resource.Observer

func (o resourceObservers) AmplifierChanged(count int, physicallyOn bool) {
	for _, obs := range o {
		obs.AmplifierChanged(count, physicallyOn)
	}
}

func (o resourceObservers) ClockChanged(p resource.ClockProfile) {
	for _, obs := range o {
		obs.ClockChanged(p)
	}
}

func (o resourceObservers) MicUsersChanged(mic resource.MicID, users int) {
	for _, obs := range o {
		obs.MicUsersChanged(mic, users)
	}
}

// syncObservers fans session outcomes out to several observers
type syncObservers []syncproto.Observer

func (o syncObservers) SyncFallback(sessionID string) {
	for _, obs := range o {
		obs.SyncFallback(sessionID)
	}
}

func (o syncObservers) SyncHandover(sessionID string, from, to syncproto.Role, vetoed bool) {
	for _, obs := range o {
		obs.SyncHandover(sessionID, from, to, vetoed)
	}
}
