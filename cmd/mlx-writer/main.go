// mlx90640-recorder - acquire calibrated thermal images from MLX90640 sensors
//  Copyright (C) 2021, The Cacophony Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.


package main

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"time"

	config "github.com/TheCacophonyProject/go-config"
	arg "github.com/alexflint/go-arg"

	"github.com/TheCacophonyProject/mlx90640-recorder/headers"
	"github.com/TheCacophonyProject/mlx90640-recorder/output"
)

var (
	version             = "<not set>"
	frameLogIntervalMin = 60
	frameLogInterval    = 60 * 5
)

type Args struct {
	ConfigDir  string `arg:"-c,--config" help:"path to configuration directory"`
	FrameInput string `arg:"--frame-input" help:"socket to receive frames on"`
	OutputDir  string `arg:"-o,--output-dir" help:"directory to write raw files to"`
	Timestamps bool   `arg:"-t,--timestamps" help:"include timestamps in log output"`
}

func (Args) Version() string {
	return version
}

func procArgs() Args {
	var args Args
	args.ConfigDir = config.DefaultConfigDir
	arg.MustParse(&args)
	return args
}

func main() {
	err := runMain()
	if err != nil {
		log.Fatal(err)
	}
}

func runMain() error {
	args := procArgs()

	if !args.Timestamps {
		log.SetFlags(0) // Removes default timestamp flag
	}

	log.Printf("running version: %s", version)
	conf, err := ParseConfig(args.ConfigDir)
	if err != nil {
		return err
	}
	if args.FrameInput != "" {
		conf.FrameInput = args.FrameInput
	}
	if args.OutputDir != "" {
		conf.OutputDir = args.OutputDir
	}
	logConfig(conf)

	for {
		// Set up listener for frames sent by mlx90640d.
		os.Remove(conf.FrameInput)
		listener, err := net.Listen("unix", conf.FrameInput)
		if err != nil {
			return err
		}
		log.Print("waiting for sensor connection")

		conn, err := listener.Accept()
		if err != nil {
			log.Printf("socket accept failed: %v", err)
			listener.Close()
			continue
		}

		// Prevent concurrent connections.
		listener.Close()

		err = handleConn(conn, conf)
		conn.Close()
		log.Printf("sensor connection ended with: %v", err)
	}
}

func handleConn(conn io.Reader, conf *Config) error {
	reader := bufio.NewReader(conn)
	header, err := headers.ReadHeaderInfo(reader)
	if err != nil {
		return err
	}
	if header.FrameSize() != output.FrameSize || header.PixelFormat() != output.PixelFormat {
		return fmt.Errorf("unsupported frame format %q with %d byte frames",
			header.PixelFormat(), header.FrameSize())
	}

	log.Printf("connection from %s %s (%d sensors, %dx%d %s @ %dfps)",
		header.Brand(), header.Model(), header.Sensors(),
		header.ResX(), header.ResY(), header.PixelFormat(), header.FPS())

	rf, err := createRawFile(conf, time.Now(), header)
	if err != nil {
		return err
	}
	return copyFrames(reader, rf, header)
}

// copyFrames decodes frames from r and writes them to rf until r fails.
// A writer goroutine keeps slow storage from holding up the socket.
func copyFrames(r io.Reader, rf *rawFile, header *headers.HeaderInfo) error {
	const inFlight = 64

	writeFrames := make(chan *output.Frame, inFlight)
	spentFrames := make(chan *output.Frame, inFlight)
	for i := 0; i < inFlight; i++ {
		spentFrames <- new(output.Frame)
	}
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writer(rf, writeFrames, spentFrames)
	}()

	fps := header.FPS()
	if fps <= 0 {
		fps = 1
	}

	raw := make([]byte, output.FrameSize)
	totalFrames := 0
	var readErr error
	for {
		var frame *output.Frame
		select {
		case frame = <-spentFrames:
		case err := <-writeErr:
			return err
		}
		if _, err := io.ReadFull(r, raw); err != nil {
			readErr = err
			break
		}
		if err := output.DecodeFrame(raw, frame); err != nil {
			readErr = err
			break
		}
		totalFrames++
		if totalFrames%(frameLogIntervalMin*fps) == 0 && totalFrames <= 60*fps ||
			totalFrames%(frameLogInterval*fps) == 0 {
			log.Printf("%d frames for this connection", totalFrames)
		}
		writeFrames <- frame
	}

	close(writeFrames)
	if err := <-writeErr; err != nil {
		return fmt.Errorf("%v (after read error %v)", err, readErr)
	}
	log.Printf("%d frames written", totalFrames)
	return readErr
}

func writer(rf *rawFile, inFrames <-chan *output.Frame, outFrames chan<- *output.Frame) error {
	for frame := range inFrames {
		if err := rf.writeFrame(frame); err != nil {
			rf.Close()
			return err
		}
		outFrames <- frame
	}
	return rf.Close()
}

func logConfig(conf *Config) {
	log.Printf("device name: %s", conf.DeviceName)
	log.Printf("frame input: %s", conf.FrameInput)
	log.Printf("output dir: %s", conf.OutputDir)
}
