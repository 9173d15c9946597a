package its

import (
	p "nuha.dev/textgps/internal/gpsv2/pattern"
)

var locationPattern = p.MustCompile(
	p.Text("", "$").Between(0, -1),
	p.Lit("$"),
	p.Opt("lead", p.Lit(",")),
	p.Text("", ",").Then(","), // event
	p.Alt("header",
		p.Seq(
			p.Text("", ",").Then(","), // vendor
			p.Text("", ",").Then(","), // firmware version
			p.Text("", ",").Then(","), // type
			p.Num("").Then(","),
			p.Chars("", "LH").Len(1).Then(","), // history
		),
		p.Seq(p.Text("", ",").Then(",")), // type
	),
	p.Num("imei").Len(15).Then(","),
	p.Alt("state",
		p.Seq(p.Text("status", ",").Len(2).Then(",")),
		p.Seq(
			p.Text("", ",").Between(0, -1).Then(","), // vehicle registration
			p.Chars("valid", "01").Len(1).Then(","),
		),
	),
	p.Alt("date",
		p.Seq(p.Date("yyyyMMdd").Joined(",", true)),
		p.Seq(p.Date("ddMMyyyy").Joined(",", true)),
	),
	p.Lit(","),
	p.Time("HHmmss").Joined(",", true).Then(","),
	p.Opt("validity", p.Chars("validity", "AV").Len(1).Then(",")),
	p.Coord("lat", p.DEG_HEM).Then(","),
	p.Coord("lon", p.DEG_HEM).Then(","),
	p.Alt("motion",
		p.Seq(
			p.Num("speed").Fraction().Then(","),
			p.Num("course").Fraction().Then(","),
			p.Num("sat").Then(","),
			p.Opt("telemetry",
				p.Num("altitude").Fraction().Then(","),
				p.Num("").Fraction().Then(","),           // pdop
				p.Num("").Fraction().Then(","),           // hdop
				p.Text("", ",").Between(0, -1).Then(","), // operator
				p.Chars("ignition", "01").Len(1).Then(","),
				p.Chars("charge", "01").Len(1).Then(","),
				p.Num("power").Fraction().Then(","),
				p.Num("battery").Fraction().Then(","),
				p.Chars("", "01").Len(1).Then(","),        // emergency
				p.Chars("", "CO").Between(0, 1).Then(","), // tamper
				p.HexNum("signal").Then(","),
				p.HexNum("mcc").Then(","),
				p.HexNum("mnc").Then(","),
				p.HexNum("lac").Then(","),
				p.HexNum("cid").Then(","),
				p.Repeat(12, p.HexNum("").Signed().Then(",")), // neighbour cells
				p.Chars("input", "01").Len(4).Then(","),
				p.Chars("output", "01").Len(2).Then(","),
			),
		),
		p.Seq(
			p.Num("altitude").Signed().Decimal().Then(","),
			p.Num("speed").Decimal().Then(","),
		),
	),
	p.Any(),
)
