// Package command builds and parses the AMF0 command messages RTMP
// sessions exchange on the invoke channel: connect, createStream,
// publish, play and their status-message responses.
package command

import (
	"github.com/rtmpcore/rtmp-core/internal/amf0"
)

// Command is a decoded AMF0 command message: a name, a transaction
// id, and a sequence of following arguments (command object, stream
// name, and so on, depending on the command).
type Command struct {
	Name  string
	TxnID float64
	Args  []*amf0.Value
}

// Decode splits a raw AMF0 command payload into its name, transaction
// id, and remaining arguments.
func Decode(payload []byte) (*Command, error) {
	values, err := amf0.DecodeAll(payload)
	if err != nil && len(values) == 0 {
		return nil, err
	}
	cmd := &Command{}
	if len(values) > 0 {
		cmd.Name = values[0].AsString()
	}
	if len(values) > 1 {
		cmd.TxnID = values[1].AsNumber()
	}
	if len(values) > 2 {
		cmd.Args = values[2:]
	}
	return cmd, err
}

// Arg returns the i-th trailing argument after name and transaction
// id, or amf0.Undefined() if there is none.
func (c *Command) Arg(i int) *amf0.Value {
	if i < 0 || i >= len(c.Args) {
		return amf0.Undefined()
	}
	return c.Args[i]
}

// Encode serializes name, transaction id and args into one AMF0
// command payload, the shape every invoke message carries.
func Encode(name string, txnID float64, args ...*amf0.Value) []byte {
	var buf []byte
	buf = amf0.Encode(buf, amf0.Str(name))
	buf = amf0.Encode(buf, amf0.Num(txnID))
	for _, a := range args {
		buf = amf0.Encode(buf, a)
	}
	return buf
}

// ConnectResult builds the "_result" response to a connect command.
func ConnectResult(txnID float64, objectEncoding float64) []byte {
	props := amf0.Obj()
	props.Set("fmsVer", amf0.Str("FMS/3,0,1,123"))
	props.Set("capabilities", amf0.Num(31))

	info := amf0.Obj()
	info.Set("level", amf0.Str("status"))
	info.Set("code", amf0.Str("NetConnection.Connect.Success"))
	info.Set("description", amf0.Str("Connection succeeded."))
	info.Set("objectEncoding", amf0.Num(objectEncoding))

	return Encode("_result", txnID, props, info)
}

// CreateStreamResult builds the "_result" response to a createStream
// command, returning the new stream's numeric id.
func CreateStreamResult(txnID float64, streamID uint32) []byte {
	return Encode("_result", txnID, amf0.Null(), amf0.Num(float64(streamID)))
}

// StatusMessage builds an onStatus command carrying a level/code/
// description info object, used for every NetStream.* notification
// (publish start, play start, errors, pause/resume, stop).
func StatusMessage(level, code, description string) []byte {
	info := amf0.Obj()
	info.Set("level", amf0.Str(level))
	info.Set("code", amf0.Str(code))
	info.Set("description", amf0.Str(description))
	return Encode("onStatus", 0, amf0.Null(), info)
}

// StreamNameAndQuery splits the legacy "key?query=string" form that
// publish/play stream names arrive in, returning the bare key and the
// parsed query parameters.
func StreamNameAndQuery(streamName string) (key string, query map[string]string) {
	for i := 0; i < len(streamName); i++ {
		if streamName[i] == '?' {
			return streamName[:i], parseSimpleQuery(streamName[i+1:])
		}
	}
	return streamName, nil
}

func parseSimpleQuery(s string) map[string]string {
	out := make(map[string]string)
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '&' {
			kv := s[start:i]
			for j := 0; j < len(kv); j++ {
				if kv[j] == '=' {
					out[kv[:j]] = kv[j+1:]
					break
				}
			}
			start = i + 1
		}
	}
	return out
}
