package fifotrack

import (
	p "nuha.dev/textgps/internal/gpsv2/pattern"
)

var locationPattern = p.MustCompile(
	p.Lit("$$"),
	p.Num("").Then(","), // length
	p.Num("imei").Then(","),
	p.HexNum("").Then(","), // index
	p.Text("", ",").Then(","),
	p.Opt("alarm", p.Num("alarm")),
	p.Lit(","),
	p.Date("yyMMdd"),
	p.Time("HHmmss").Then(","),
	p.Chars("valid", "AV").Len(1).Then(","),
	p.Coord("lat", p.DEG).Then(","),
	p.Coord("lon", p.DEG).Then(","),
	p.Num("speed").Then(","),
	p.Num("course").Then(","),
	p.Num("altitude").Signed().Then(","),
	p.Num("odometer").Then(","),
	p.Num("").Then(","), // runtime
	p.HexNum("status").Len(4).Then(","),
	p.Opt("input", p.HexNum("input")),
	p.Lit(","),
	p.Opt("output", p.HexNum("output")),
	p.Lit(","),
	p.Num("mcc").Then("|"),
	p.Num("mnc").Then("|"),
	p.HexNum("lac").Then("|"),
	p.HexNum("cid").Then(","),
	p.Chars("adc", "0123456789ABCDEFabcdef|"),
	p.Lit(","),
	p.Text("rfid", ",*"),
	p.Opt("sensors", p.Lit(","), p.Text("sensors", "*")),
	p.Any(),
)

var announcePattern = p.MustCompile(
	p.Lit("$$"),
	p.Num("").Then(","),
	p.Num("imei").Then(","),
	p.HexNum("").Then(","), // index
	p.Lit("D05"),
	p.Any(),
	p.Lit(","),
	p.Num("length").Then(","),
	p.Text("photo", ",*"),
	p.Lit("*"),
	p.HexNum("").Len(2),
)

var chunkPattern = p.MustCompile(
	p.Lit("$$"),
	p.Num("").Then(","),
	p.Num("imei").Then(","),
	p.Opt("index", p.HexNum("").Then(",")),
	p.Lit("D06,"),
	p.Text("photo", ",*").Then(","),
	p.Num("offset").Then(","),
	p.Num("size").Then(","),
	p.HexNum("data"),
	p.Lit("*"),
	p.HexNum("").Len(2),
)
