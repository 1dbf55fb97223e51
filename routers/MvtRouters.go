package routers

import (
	"github.com/GrainArc/GlobeMVT/views"
	"github.com/gin-gonic/gin"
)

func MvtRouters(r *gin.Engine, mc *views.MvtController) {
	mvtRouter := r.Group("/mvt")
	{
		mvtRouter.GET("/sources", mc.ListSources)
		mvtRouter.POST("/sources", mc.AddSource)
		mvtRouter.DELETE("/sources/:name", mc.DeleteSource)

		mvtRouter.GET("/:source/pick", mc.Pick)
		mvtRouter.GET("/:source/scene", mc.Hub.Connect)
		mvtRouter.DELETE("/:source/primitives", mc.EvictPrimitives)
		mvtRouter.GET("/:source/:z/:x/:y", mc.GetTile)
	}
}
