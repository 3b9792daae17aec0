package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/viper"

	"github.com/peerlearn/sessionroom/cmd/room/config"
	"github.com/peerlearn/sessionroom/internal/media"
	"github.com/peerlearn/sessionroom/internal/room"
	"github.com/peerlearn/sessionroom/internal/signalling"
	"github.com/peerlearn/sessionroom/internal/utils"
)

func initializeDeviceAPI() media.DeviceAPI {
	// A media file gives real audio; without one the synthetic devices
	// keep the room testable end to end.
	if mediaFile := viper.GetString("mediafile"); mediaFile != "" {
		return media.NewFileDeviceAPI(mediaFile, slog.Default())
	}
	return media.NewSyntheticDeviceAPI()
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	sessionID := flag.String("sessionID", "", "The id of the session to join.")
	userID := flag.String("userID", "", "The local participant id. A random id is generated when empty.")
	username := flag.String("username", "anonymous", "The local participant display name.")
	role := flag.String("role", "learner", "The local participant role, mentor or learner.")
	token := flag.String("token", "", "The session authorization token.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	if *sessionID == "" {
		slog.Error("a sessionID must be specified")
		panic("no sessionID specified")
	}
	if *userID == "" {
		*userID = uuid.NewString()
	}

	// --------------------------------------------------------------------------------

	session := room.Session{
		ID:       *sessionID,
		Token:    *token,
		SelfID:   *userID,
		SelfName: *username,
		Role:     room.Role(*role),
	}

	channel := signalling.Connect(signalling.Config{
		ServerURL: viper.GetString("signallingserver"),
		SessionID: session.ID,
		Token:     session.Token,
		Logger:    slog.Default(),
	})

	r := room.New(session, channel, initializeDeviceAPI(), room.Config{
		RTCConfiguration: webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: viper.GetStringSlice("ICEServers")}},
		},
		LifecycleURL: viper.GetString("lifecycleserver"),
		Logger:       slog.Default(),
	})

	// --------------------------------------------------------------------------------

	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-interruptChannel:
		slog.Info("received shutdown signal", "signal", sig)
		r.Close()
		<-r.Done()
	case <-r.Done():
	}
	slog.Info("session room shut down")
}
