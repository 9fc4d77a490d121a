// consultclient streams a WAV file to the consultation capture gateway
// and prints the transcript and structuring events it gets back.
package main

import (
	"encoding/binary"
	"encoding/json"
	"flag"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// Stream audio in chunks to simulate real-time capture
// At 16kHz 16-bit mono = 32000 bytes/second
// 100ms chunks = 3200 bytes
const chunkSize = 3200
const chunkIntervalMs = 100

func main() {
	audioFile := flag.String("audio", "testdata/sample-16khz.wav", "Path to WAV file (16kHz 16-bit mono)")
	serverAddr := flag.String("server", "ws://localhost:8080/v1/consultations/stream", "Gateway WebSocket URL")
	consultationId := flag.String("consultation", "consult-"+time.Now().Format("150405"), "Consultation ID")
	tenantId := flag.String("tenant", "clinic-demo", "Tenant ID")
	token := flag.String("token", "", "Bearer token")
	exams := flag.String("exams", "", "Comma-separated exam catalog ids")
	flag.Parse()

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		log.Fatal("Not a valid WAV file")
	}

	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Printf("WAV file: channels=%d sampleRate=%d bitsPerSample=%d", numChannels, sampleRate, bitsPerSample)

	conn, _, err := websocket.DefaultDialer.Dial(*serverAddr, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverAddr)

	meta := map[string]any{
		"consultationId": *consultationId,
		"tenantId":       *tenantId,
		"token":          *token,
		"audio": map[string]any{
			"sampleRateHz": int(sampleRate),
			"channels":     int(numChannels),
			"encoding":     "LINEAR16",
		},
	}
	if *exams != "" {
		meta["context"] = map[string]any{"examCatalogIds": strings.Split(*exams, ",")}
	}
	if err := conn.WriteJSON(meta); err != nil {
		log.Fatalf("Failed to send metadata: %v", err)
	}
	log.Printf("Streaming audio: consultationId=%s tenantId=%s", *consultationId, *tenantId)

	// Print events until the server closes the connection.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ev map[string]any
			if err := json.Unmarshal(data, &ev); err != nil {
				continue
			}
			switch ev["type"] {
			case "partial":
				log.Printf("  [partial] %v: %v", ev["speaker"], ev["text"])
			case "final":
				log.Printf("✓ [final]   %v: %v", ev["speaker"], ev["text"])
			case "structured":
				pretty, _ := json.MarshalIndent(ev["result"], "", "  ")
				log.Printf("Structured result:\n%s", pretty)
			case "error":
				log.Printf("✗ [error]   %v: %v", ev["code"], ev["message"])
			}
		}
	}()

	chunk := make([]byte, chunkSize)
	var totalBytes int64
	var chunkNum int
	startTime := time.Now()

	for {
		n, err := f.Read(chunk)
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}

		chunkNum++
		totalBytes += int64(n)
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk[:n]); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		if chunkNum%50 == 0 {
			log.Printf("Sent chunk %d (%d bytes total)", chunkNum, totalBytes)
		}

		// Simulate real-time capture
		time.Sleep(chunkIntervalMs * time.Millisecond)
	}
	log.Printf("Finished streaming: %d chunks, %d bytes in %v", chunkNum, totalBytes, time.Since(startTime))

	// Ask the gateway to finalize and wait for the structured result.
	if err := conn.WriteJSON(map[string]string{"type": "stop"}); err != nil {
		log.Fatalf("Failed to send stop: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Minute):
		log.Println("Timed out waiting for structured result")
	}
}
