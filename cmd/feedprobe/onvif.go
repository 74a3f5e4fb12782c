package main

import (
	"context"
	"fmt"

	"github.com/use-go/onvif"
	onvifDevice "github.com/use-go/onvif/device"
	onvifMedia "github.com/use-go/onvif/media"
	sdkDevice "github.com/use-go/onvif/sdk/device"
	sdkMedia "github.com/use-go/onvif/sdk/media"
	xsdOnvif "github.com/use-go/onvif/xsd/onvif"
)

// Whatever we have discovered about the camera via ONVIF
type onvifInfo struct {
	Manufacturer string
	Model        string
	Firmware     string
	Serial       string
	Streams      []onvifStream
}

type onvifStream struct {
	Profile string
	URL     string
}

func onvifDiscover(host, username, password string) (*onvifInfo, error) {
	dev, err := onvif.NewDevice(onvif.DeviceParams{
		Xaddr:    host,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to %v: %w", host, err)
	}

	info := &onvifInfo{}
	devInfo, err := sdkDevice.Call_GetDeviceInformation(context.Background(), dev, onvifDevice.GetDeviceInformation{})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch device info: %w", err)
	}
	info.Manufacturer = devInfo.Manufacturer
	info.Model = devInfo.Model
	info.Firmware = devInfo.FirmwareVersion
	info.Serial = devInfo.SerialNumber

	resp, err := sdkMedia.Call_GetProfiles(context.Background(), dev, onvifMedia.GetProfiles{})
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch media profiles: %w", err)
	}
	for _, profile := range resp.Profiles {
		streamRequest := onvifMedia.GetStreamUri{
			// The StreamSetup part is necessary for Reolink cameras.
			StreamSetup: xsdOnvif.StreamSetup{
				Stream: "RTP-Unicast",
				Transport: xsdOnvif.Transport{
					Protocol: "RTSP",
				},
			},
			ProfileToken: profile.Token,
		}
		r, err := sdkMedia.Call_GetStreamUri(context.Background(), dev, streamRequest)
		if err != nil {
			return nil, fmt.Errorf("Failed to fetch stream URI for profile %v: %w", profile.Name, err)
		}
		info.Streams = append(info.Streams, onvifStream{
			Profile: string(profile.Name),
			URL:     string(r.MediaUri.Uri),
		})
	}
	return info, nil
}
