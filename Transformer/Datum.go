package Transformer

import (
	"math"
	"strings"
)

// Datum 瓦片坐标基准，国内互联网地图常带 GCJ02/BD09 偏移
type Datum int

const (
	DatumWGS84 Datum = iota
	DatumGCJ02       // 火星坐标系
	DatumBD09        // 百度坐标系
)

const (
	xPi = math.Pi * 3000.0 / 180.0
	krA = 6378245.0
	krE = 0.00669342162296594323
)

// ParseDatum 解析配置中的基准名称
func ParseDatum(name string) Datum {
	switch strings.ToLower(name) {
	case "gcj02", "1":
		return DatumGCJ02
	case "bd09", "2":
		return DatumBD09
	default:
		return DatumWGS84
	}
}

// ToWGS84 去除基准偏移
func (d Datum) ToWGS84(lng, lat float64) (float64, float64) {
	switch d {
	case DatumGCJ02:
		return gcj02ToWGS84(lng, lat)
	case DatumBD09:
		return gcj02ToWGS84(bd09ToGCJ02(lng, lat))
	default:
		return lng, lat
	}
}

// FromWGS84 加上基准偏移
func (d Datum) FromWGS84(lng, lat float64) (float64, float64) {
	switch d {
	case DatumGCJ02:
		return wgs84ToGCJ02(lng, lat)
	case DatumBD09:
		return gcj02ToBD09(wgs84ToGCJ02(lng, lat))
	default:
		return lng, lat
	}
}

func outOfChina(lng, lat float64) bool {
	return !(lng > 73.66 && lng < 135.05 && lat > 3.86 && lat < 53.55)
}

func wgs84ToGCJ02(lng, lat float64) (float64, float64) {
	if outOfChina(lng, lat) {
		return lng, lat
	}
	dlat := offsetLat(lng-105.0, lat-35.0)
	dlng := offsetLng(lng-105.0, lat-35.0)
	radlat := lat / 180.0 * math.Pi
	magic := math.Sin(radlat)
	magic = 1 - krE*magic*magic
	sqrtmagic := math.Sqrt(magic)
	dlat = (dlat * 180.0) / ((krA * (1 - krE)) / (magic * sqrtmagic) * math.Pi)
	dlng = (dlng * 180.0) / (krA / sqrtmagic * math.Cos(radlat) * math.Pi)
	return lng + dlng, lat + dlat
}

// gcj02ToWGS84 二分逼近
func gcj02ToWGS84(lng, lat float64) (float64, float64) {
	if outOfChina(lng, lat) {
		return lng, lat
	}
	const delta, threshold = 0.01, 1e-9
	mlng, mlat := lng-delta, lat-delta
	plng, plat := lng+delta, lat+delta
	for i := 0; i < 40; i++ {
		wlng, wlat := (mlng+plng)/2, (mlat+plat)/2
		glng, glat := wgs84ToGCJ02(wlng, wlat)
		dlng, dlat := glng-lng, glat-lat
		if math.Abs(dlng) < threshold && math.Abs(dlat) < threshold {
			return wlng, wlat
		}
		if dlng > 0 {
			plng = wlng
		} else {
			mlng = wlng
		}
		if dlat > 0 {
			plat = wlat
		} else {
			mlat = wlat
		}
	}
	return (mlng + plng) / 2, (mlat + plat) / 2
}

func gcj02ToBD09(lng, lat float64) (float64, float64) {
	z := math.Sqrt(lng*lng+lat*lat) + 0.00002*math.Sin(lat*xPi)
	theta := math.Atan2(lat, lng) + 0.000003*math.Cos(lng*xPi)
	return z*math.Cos(theta) + 0.0065, z*math.Sin(theta) + 0.006
}

func bd09ToGCJ02(lng, lat float64) (float64, float64) {
	x, y := lng-0.0065, lat-0.006
	z := math.Sqrt(x*x+y*y) - 0.00002*math.Sin(y*xPi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*xPi)
	return z * math.Cos(theta), z * math.Sin(theta)
}

func offsetLat(x, y float64) float64 {
	ret := -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*x*y + 0.2*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(y*math.Pi) + 40.0*math.Sin(y/3.0*math.Pi)) * 2.0 / 3.0
	ret += (160.0*math.Sin(y/12.0*math.Pi) + 320.0*math.Sin(y*math.Pi/30.0)) * 2.0 / 3.0
	return ret
}

func offsetLng(x, y float64) float64 {
	ret := 300.0 + x + 2.0*y + 0.1*x*x + 0.1*x*y + 0.1*math.Sqrt(math.Abs(x))
	ret += (20.0*math.Sin(6.0*x*math.Pi) + 20.0*math.Sin(2.0*x*math.Pi)) * 2.0 / 3.0
	ret += (20.0*math.Sin(x*math.Pi) + 40.0*math.Sin(x/3.0*math.Pi)) * 2.0 / 3.0
	ret += (150.0*math.Sin(x/12.0*math.Pi) + 300.0*math.Sin(x/30.0*math.Pi)) * 2.0 / 3.0
	return ret
}
